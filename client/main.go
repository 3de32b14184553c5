// Dev/test client for dev/test/troubleshooting of the report store and the
// local report cache.
//
//	client [flags] submit|reports|report <id>|balance|stats|by_status <status>|all|
//	       verify <id> [notes]|reject <id> <notes>|review <id> [notes]|
//	       send <id> <content>|messages <id>|info|is_authority|add_authority <id>|
//	       remove_authority <id>|authorities|bulk_verify <id>... |by_category <category>|
//	       by_date <from> <to>|search|page <page> <size>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"whispr/api"
	"whispr/common"
	"whispr/kv"
	"whispr/reportsync"
	"whispr/rpc"

	"github.com/apex/log"
)

var (
	storeURL  = flag.String("store_url", "http://127.0.0.1:8080", "Report store address. Empty works offline.")
	principal = flag.String("principal", "", "Caller identity sent to the report store.")
	cachePath = flag.String("cache", "", "LevelDB directory for the local report cache. Empty keeps it in memory.")
	cacheDB   = flag.Bool("cache_mysql", false, "Keep the local report cache in MySQL, see -mysql_* flags.")
	strict    = flag.Bool("strict", false, "Fail submissions the store refuses instead of keeping them locally.")
	imageMax  = flag.Int("image_max", 0, "Downscale image evidence to fit this many pixels, 0 keeps originals.")
	timeout   = flag.Duration("timeout", 30*time.Second, "Timeout of the whole command.")

	title       = flag.String("title", "", "Report title.")
	description = flag.String("description", "", "Report description.")
	category    = flag.String("category", "other", "Report category.")
	stake       = flag.Int64("stake", reportsync.DefaultMinStake, "Tokens staked on the report.")
	address     = flag.String("address", "", "Incident address.")
	latitude    = flag.Float64("lat", 0, "Incident latitude, used with -lng.")
	longitude   = flag.Float64("lng", 0, "Incident longitude, used with -lat.")
	date        = flag.String("date", "", "Incident date, YYYY-MM-DD.")
	incidentAt  = flag.String("time", "", "Incident time, HH:MM.")
	evidence    = flag.String("evidence", "", "Comma-separated evidence file paths.")

	notes    = flag.String("notes", "", "Review notes for bulk_verify.")
	keyword  = flag.String("keyword", "", "search: text in the title or description.")
	status   = flag.String("status", "", "search: report status.")
	since    = flag.String("from", "", "search: submitted on or after, YYYY-MM-DD.")
	until    = flag.String("to", "", "search: submitted on or before, YYYY-MM-DD.")
	minStake = flag.Int64("min_stake", -1, "search: minimum stake, -1 for any.")
	maxStake = flag.Int64("max_stake", -1, "search: maximum stake, -1 for any.")
)

const dateLayout = "2006-01-02"

// dayRange turns two dates into the first and last instant of that span.
func dayRange(from, to string) (time.Time, time.Time, error) {
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return f, t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

func searchFilter() (api.SearchArgs, error) {
	filter := api.SearchArgs{
		Keyword: *keyword,
		Status:  api.Status(*status),
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "category" {
			filter.Category = *category
		}
	})
	if *since != "" {
		t, err := time.Parse(dateLayout, *since)
		if err != nil {
			return filter, err
		}
		filter.From = &t
	}
	if *until != "" {
		_, t, err := dayRange(*until, *until)
		if err != nil {
			return filter, err
		}
		filter.To = &t
	}
	if *minStake >= 0 {
		filter.MinStake = minStake
	}
	if *maxStake >= 0 {
		filter.MaxStake = maxStake
	}
	return filter, nil
}

func intArg(i int) int64 {
	n, err := strconv.ParseInt(arg(i), 10, 64)
	if err != nil {
		log.Fatalf("Argument %d of %q is not a number: %v", i, flag.Arg(0), err)
	}
	return n
}

func openCache() (kv.Store, func(), error) {
	switch {
	case *cacheDB:
		db, err := common.DBConnect()
		if err != nil {
			return nil, nil, err
		}
		s := kv.NewMySQLStore(db, *principal)
		if err := s.CreateTable(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, func() { db.Close() }, nil
	case *cachePath != "":
		s, err := kv.OpenLevelDB(*cachePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
	return kv.NewMemoryStore(), func() {}, nil
}

func submission() (reportsync.Submission, error) {
	s := reportsync.Submission{
		Title:       *title,
		Description: *description,
		Category:    *category,
		Date:        *date,
		Time:        *incidentAt,
		StakeAmount: *stake,
	}
	latLngSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "lat" || f.Name == "lng" {
			latLngSet = true
		}
	})
	if *address != "" || latLngSet {
		s.Location = &api.Location{Address: *address}
		if latLngSet {
			s.Location.Coordinates = &api.Coordinates{Lat: *latitude, Lng: *longitude}
		}
	}
	for _, p := range strings.Split(*evidence, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		f, err := reportsync.FileFromPath(p)
		if err != nil {
			return s, err
		}
		s.Evidence = append(s.Evidence, f)
	}
	return s, nil
}

func arg(i int) string {
	if flag.NArg() <= i {
		log.Fatalf("Missing argument %d for %q", i, flag.Arg(0))
	}
	return flag.Arg(i)
}

func run(ctx context.Context, c *reportsync.Client, cmd string) (interface{}, error) {
	switch cmd {
	case "submit":
		s, err := submission()
		if err != nil {
			return nil, err
		}
		return c.SubmitReport(ctx, s)
	case "reports":
		return c.GetUserReports(ctx), nil
	case "report":
		return c.GetReportByID(ctx, arg(1))
	case "balance":
		return c.GetTokenBalance(ctx), nil
	case "stats":
		return c.GetAuthorityStatistics(ctx)
	case "by_status":
		return c.GetReportsByStatus(ctx, api.Status(arg(1)))
	case "all":
		return c.GetAllReports(ctx)
	case "verify":
		return nil, c.VerifyReport(ctx, arg(1), flag.Arg(2))
	case "reject":
		return nil, c.RejectReport(ctx, arg(1), arg(2))
	case "review":
		return nil, c.PutUnderReview(ctx, arg(1), flag.Arg(2))
	case "send":
		return c.SendMessage(ctx, arg(1), arg(2))
	case "messages":
		return c.GetMessages(ctx, arg(1))
	case "info":
		return c.GetUserInfo(ctx)
	case "is_authority":
		return c.IsAuthority(ctx)
	case "add_authority":
		return nil, c.AddAuthority(ctx, arg(1))
	case "remove_authority":
		return nil, c.RemoveAuthority(ctx, arg(1))
	case "authorities":
		return c.GetAllAuthorities(ctx)
	case "bulk_verify":
		return c.BulkVerifyReports(ctx, flag.Args()[1:], *notes)
	case "by_category":
		return c.GetReportsByCategory(ctx, arg(1))
	case "by_date":
		from, to, err := dayRange(arg(1), arg(2))
		if err != nil {
			return nil, err
		}
		return c.GetReportsByDateRange(ctx, api.DateRangeArgs{From: from, To: to})
	case "search":
		filter, err := searchFilter()
		if err != nil {
			return nil, err
		}
		return c.SearchReports(ctx, filter)
	case "page":
		return c.GetReportsPaginated(ctx, api.PageArgs{Page: intArg(1), PageSize: intArg(2)})
	}
	return nil, fmt.Errorf("unknown command %q", cmd)
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	store, closeStore, err := openCache()
	if err != nil {
		log.Fatalf("Failed to open the report cache: %v", err)
	}
	defer closeStore()

	client := reportsync.New(rpc.NewHTTPTransport(*storeURL, *principal), store, reportsync.Config{
		MaxImageDimension: *imageMax,
		StrictSubmit:      *strict,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	v, err := run(ctx, client, flag.Arg(0))
	if err != nil {
		log.Errorf("%s failed: %v", flag.Arg(0), err)
		return
	}
	if v == nil {
		log.Infof("%s done", flag.Arg(0))
		return
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Errorf("Failed to print the result: %v", err)
		return
	}
	fmt.Println(string(b))
}
