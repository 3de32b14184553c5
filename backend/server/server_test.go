package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whispr/api"
	"whispr/backend/db"
	"whispr/backend/rabbitmq"
	"whispr/kv"
	"whispr/reportsync"
	"whispr/rpc"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	reporter  = "0x52908400098527886E0F7030069857D2E4169EE7"
	authority = "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
)

type published struct {
	routingKey string
	event      rabbitmq.ReportEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) PublishWithRoutingKey(routingKey string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{routingKey: routingKey, event: message.(rabbitmq.ReportEvent)})
	return nil
}

type payment struct {
	to     ethcommon.Address
	tokens int64
}

type fakePayer struct {
	paid chan payment
}

func (p *fakePayer) Pay(ctx context.Context, to ethcommon.Address, tokens int64) (ethcommon.Hash, error) {
	p.paid <- payment{to: to, tokens: tokens}
	return ethcommon.HexToHash("0x01"), nil
}

type fixture struct {
	db        *sql.DB
	mock      sqlmock.Sqlmock
	publisher *fakePublisher
	payer     *fakePayer
	router    *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	dbc, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { dbc.Close() })

	f := &fixture{
		db:        dbc,
		mock:      mock,
		publisher: &fakePublisher{},
		payer:     &fakePayer{paid: make(chan payment, 1)},
	}
	f.router = New(dbc, db.DefaultRules(), f.publisher, f.payer).Router()
	return f
}

func (f *fixture) call(t *testing.T, method, principal string, args interface{}) (*httptest.ResponseRecorder, api.Result) {
	req := api.Request{Version: api.APIVersion}
	if args != nil {
		b, err := json.Marshal(args)
		require.NoError(t, err)
		req.Args = b
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/"+method, bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if principal != "" {
		httpReq.Header.Set(api.PrincipalHeader, principal)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httpReq)

	res, _ := api.DecodeResult(w.Body.Bytes())
	return w, res
}

func (f *fixture) expectAuthority(id string, ok bool) {
	n := 0
	if ok {
		n = 1
	}
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM authorities WHERE id = ?")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(n))
}

func (f *fixture) expectSubmit(seq int64) {
	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT IGNORE INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectQuery("SELECT token_balance FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"token_balance"}).AddRow(250))
	f.mock.ExpectQuery("SELECT COUNT(.+) FROM reports").
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(0))
	f.mock.ExpectExec("INSERT INTO reports").WillReturnResult(sqlmock.NewResult(seq, 1))
	f.mock.ExpectExec("UPDATE users SET token_balance").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectCommit()
}

func TestBadVersion(t *testing.T) {
	f := newFixture(t)
	httpReq := httptest.NewRequest(http.MethodPost, "/"+api.MethodGetUserBalance, bytes.NewBufferString(`{"version":"1.0"}`))
	httpReq.Header.Set(api.PrincipalHeader, reporter)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httpReq)
	assert.Equal(t, http.StatusNotAcceptable, w.Code)
}

func TestHelpAndVersion(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{EndPointHelp, EndPointVersion, EndPointMetrics} {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestSubmitReport(t *testing.T) {
	f := newFixture(t)
	f.expectSubmit(12)

	w, res := f.call(t, api.MethodSubmitReport, reporter, api.SubmitReportArgs{
		Title: "Theft", Description: "Cash missing", Category: "fraud", StakeAmount: 10,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.False(t, res.IsErr, res.Err)
	assert.JSONEq(t, `"12"`, string(res.Value))
	require.NoError(t, f.mock.ExpectationsWereMet())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, rabbitmq.RouteSubmitted, f.publisher.events[0].routingKey)
	assert.Equal(t, db.Pseudonym(reporter, "12"), f.publisher.events[0].event.Pseudonym)
}

func TestSubmitReportRefused(t *testing.T) {
	f := newFixture(t)

	_, res := f.call(t, api.MethodSubmitReport, "", api.SubmitReportArgs{Title: "t", Description: "d", StakeAmount: 10})
	assert.True(t, res.IsErr)
	assert.Equal(t, db.ErrForbidden.Error(), res.Err)

	_, res = f.call(t, api.MethodSubmitReport, reporter, api.SubmitReportArgs{Title: "t", Description: "d", StakeAmount: 1})
	assert.True(t, res.IsErr)
	assert.Contains(t, res.Err, "Stake must be between")

	_, res = f.call(t, api.MethodSubmitReport, reporter, nil)
	assert.True(t, res.IsErr)
	assert.Empty(t, f.publisher.events)
}

func TestGetBalanceAlias(t *testing.T) {
	f := newFixture(t)
	for _, method := range []string{api.MethodGetUserBalance, api.MethodGetTokenBalance} {
		f.mock.ExpectQuery("SELECT token_balance FROM users WHERE id = (.+)").
			WithArgs(reporter).
			WillReturnRows(sqlmock.NewRows([]string{"token_balance"}).AddRow(240))
		_, res := f.call(t, method, reporter, nil)
		require.False(t, res.IsErr, res.Err)
		assert.JSONEq(t, "240", string(res.Value))
	}
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestVerifyReportRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(reporter, false)

	_, res := f.call(t, api.MethodVerifyReport, reporter, api.ReviewArgs{ID: "3", Notes: "confirmed"})
	assert.True(t, res.IsErr)
	assert.Equal(t, db.ErrForbidden.Error(), res.Err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestVerifyReport(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT reporter, status, stake_amount FROM reports").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"reporter", "status", "stake_amount"}).AddRow(reporter, "under_review", 20))
	f.mock.ExpectExec("UPDATE reports SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE users SET token_balance").
		WithArgs(220, 20, 200, reporter).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(5, 1))
	f.mock.ExpectCommit()

	_, res := f.call(t, api.MethodVerifyReport, authority, api.ReviewArgs{ID: "3", Notes: "confirmed"})
	require.False(t, res.IsErr, res.Err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, rabbitmq.RouteVerified, f.publisher.events[0].routingKey)
	assert.Equal(t, int64(200), f.publisher.events[0].event.RewardAmount)

	select {
	case p := <-f.payer.paid:
		assert.Equal(t, ethcommon.HexToAddress(reporter), p.to)
		assert.Equal(t, int64(200), p.tokens)
	case <-time.After(5 * time.Second):
		t.Fatal("reward was not paid out")
	}
}

func TestVerifyRejectedReport(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT reporter, status, stake_amount FROM reports").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"reporter", "status", "stake_amount"}).AddRow(reporter, "rejected", 20))
	f.mock.ExpectRollback()

	_, res := f.call(t, api.MethodVerifyReport, authority, api.ReviewArgs{ID: "3"})
	assert.True(t, res.IsErr)
	assert.Equal(t, "Report is already rejected", res.Err)
	assert.Empty(t, f.publisher.events)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetReportAccess(t *testing.T) {
	f := newFixture(t)
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"seq", "reporter", "title", "description", "category", "address", "latitude",
			"longitude", "incident_date", "incident_time", "status", "stake_amount", "reward_amount", "review_notes",
			"review_date", "reviewer", "ts", "has_messages"}).
			AddRow(7, reporter, "Spill", "Oil", "environment", "", nil, nil, "", "", "pending", 10, 0, "", nil, "",
				time.Date(2024, 1, 9, 18, 30, 0, 0, time.UTC), int64(0))
	}
	noEvidence := sqlmock.NewRows([]string{"name", "type", "size", "last_modified"})

	// Another user.
	f.mock.ExpectQuery("SELECT (.+) FROM reports r WHERE r.seq = (.+)").WithArgs(7).WillReturnRows(row())
	f.mock.ExpectQuery("SELECT name, type, size, last_modified FROM evidence").WithArgs(7).WillReturnRows(noEvidence)
	f.expectAuthority("0xstranger", false)
	_, res := f.call(t, api.MethodGetReport, "0xstranger", api.ReportIDArgs{ID: "7"})
	assert.True(t, res.IsErr)

	// The submitter.
	f.mock.ExpectQuery("SELECT (.+) FROM reports r WHERE r.seq = (.+)").WithArgs(7).WillReturnRows(row())
	f.mock.ExpectQuery("SELECT name, type, size, last_modified FROM evidence").WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "size", "last_modified"}))
	_, res = f.call(t, api.MethodGetReport, reporter, api.ReportIDArgs{ID: "7"})
	require.False(t, res.IsErr, res.Err)
	var r api.Report
	require.NoError(t, res.Decode(&r))
	assert.Equal(t, "7", r.ID)
	assert.Equal(t, api.StatusPending, r.Status)
	assert.Equal(t, "2024-01-09T18:30:00Z", r.DateSubmitted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT reporter FROM reports WHERE seq = ?")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"reporter"}).AddRow(reporter))
	f.mock.ExpectExec("INSERT INTO messages").
		WithArgs(7, "reporter", "I have more photos").
		WillReturnResult(sqlmock.NewResult(9, 1))

	_, res := f.call(t, api.MethodSendMessage, reporter, api.MessageArgs{ID: "7", Content: "I have more photos"})
	require.False(t, res.IsErr, res.Err)
	var m api.Message
	require.NoError(t, res.Decode(&m))
	assert.Equal(t, api.SenderReporter, m.Sender)
	assert.Equal(t, int64(9), m.ID)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSyncClientAgainstStore(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	f.expectSubmit(21)
	client := reportsync.New(rpc.NewHTTPTransport(srv.URL, reporter), kv.NewMemoryStore(), reportsync.Config{})
	res, err := client.SubmitReport(context.Background(), reportsync.Submission{
		Title:       "Theft",
		Description: "Cash missing from the register",
		Category:    "fraud",
		StakeAmount: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "21", res.ReportID)
	assert.False(t, res.Provisional)

	f.expectAuthority(reporter, false)
	err = client.VerifyReport(context.Background(), "21", "self-approval")
	assert.ErrorIs(t, err, reportsync.ErrRemoteRejected)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPrepareStoreDB(t *testing.T) {
	dbc, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer dbc.Close()

	for i := 0; i < 5; i++ {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT IGNORE INTO authorities").WithArgs(authority).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT IGNORE INTO authorities").WithArgs("0xsecond").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, prepareStoreDB(context.Background(), dbc, " "+authority+", ,0xsecond"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// countingPayer records how many payments were in progress at once.
type countingPayer struct {
	inFlight    int32
	maxInFlight int32
	paid        chan payment
}

func (p *countingPayer) Pay(ctx context.Context, to ethcommon.Address, tokens int64) (ethcommon.Hash, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	for {
		m := atomic.LoadInt32(&p.maxInFlight)
		if n <= m || atomic.CompareAndSwapInt32(&p.maxInFlight, m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&p.inFlight, -1)
	p.paid <- payment{to: to, tokens: tokens}
	return ethcommon.HexToHash("0x02"), nil
}

func TestPayoutsAreSentOneAtATime(t *testing.T) {
	payer := &countingPayer{paid: make(chan payment, 5)}
	s := New(nil, db.DefaultRules(), nil, payer)

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.payReward(&db.Review{ReportID: strconv.Itoa(i), Reporter: reporter, Reward: int64(i * 100)})
		}(i)
	}
	wg.Wait()

	var total int64
	for i := 0; i < 5; i++ {
		select {
		case p := <-payer.paid:
			total += p.tokens
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of 5 rewards were paid", i)
		}
	}
	assert.Equal(t, int64(1500), total)
	assert.Equal(t, int32(1), atomic.LoadInt32(&payer.maxInFlight))
}

func TestPayRewardSkipsNonAddressReporters(t *testing.T) {
	payer := &countingPayer{paid: make(chan payment, 1)}
	s := New(nil, db.DefaultRules(), nil, payer)
	s.payReward(&db.Review{ReportID: "1", Reporter: "2vxsx-fae", Reward: 100})

	select {
	case p := <-payer.paid:
		t.Fatalf("unexpected payment %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func reportRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"seq", "reporter", "title", "description", "category", "address", "latitude",
		"longitude", "incident_date", "incident_time", "status", "stake_amount", "reward_amount", "review_notes",
		"review_date", "reviewer", "ts", "has_messages"})
}

func TestIsAuthority(t *testing.T) {
	f := newFixture(t)

	_, res := f.call(t, api.MethodIsAuthority, "", nil)
	require.False(t, res.IsErr, res.Err)
	assert.JSONEq(t, "false", string(res.Value))

	f.expectAuthority(authority, true)
	_, res = f.call(t, api.MethodIsAuthority, authority, nil)
	require.False(t, res.IsErr, res.Err)
	assert.JSONEq(t, "true", string(res.Value))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAddNewAuthority(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	f.expectAuthority("0xnew", false)
	f.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO authorities (id) VALUES (?)")).
		WithArgs("0xnew").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, res := f.call(t, api.MethodAddNewAuthority, authority, api.AuthorityArgs{ID: "0xnew"})
	require.False(t, res.IsErr, res.Err)

	f.expectAuthority(reporter, false)
	_, res = f.call(t, api.MethodAddNewAuthority, reporter, api.AuthorityArgs{ID: reporter})
	assert.True(t, res.IsErr)
	assert.Equal(t, db.ErrForbidden.Error(), res.Err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRemoveAuthority(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	_, res := f.call(t, api.MethodRemoveAuthority, authority, api.AuthorityArgs{ID: authority})
	assert.True(t, res.IsErr)
	assert.Equal(t, "Cannot remove yourself as authority", res.Err)

	f.expectAuthority(authority, true)
	f.mock.ExpectExec("DELETE FROM authorities").WithArgs("0xgone").WillReturnResult(sqlmock.NewResult(0, 0))
	_, res = f.call(t, api.MethodRemoveAuthority, authority, api.AuthorityArgs{ID: "0xgone"})
	assert.True(t, res.IsErr)
	assert.Equal(t, "Principal is not an authority", res.Err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetAllAuthorities(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	f.mock.ExpectQuery("SELECT a.id, (.+) FROM authorities a LEFT JOIN reports r").
		WillReturnRows(sqlmock.NewRows([]string{"id", "reviewed", "verified"}).
			AddRow(authority, 4, 3).
			AddRow("0xidle", 0, 0))

	_, res := f.call(t, api.MethodGetAllAuthorities, authority, nil)
	require.False(t, res.IsErr, res.Err)
	var got []api.Authority
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, []api.Authority{
		{ID: authority, ReportsReviewed: 4, ApprovalRate: 0.75},
		{ID: "0xidle"},
	}, got)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetUserInfo(t *testing.T) {
	f := newFixture(t)

	_, res := f.call(t, api.MethodGetUserInfo, "", nil)
	require.False(t, res.IsErr, res.Err)
	assert.JSONEq(t, "null", string(res.Value))

	f.mock.ExpectQuery("SELECT token_balance, stakes_active, stakes_lost, rewards_earned FROM users").
		WithArgs("0xnobody").
		WillReturnRows(sqlmock.NewRows([]string{"token_balance", "stakes_active", "stakes_lost", "rewards_earned"}))
	_, res = f.call(t, api.MethodGetUserInfo, "0xnobody", nil)
	require.False(t, res.IsErr, res.Err)
	assert.JSONEq(t, "null", string(res.Value))

	f.mock.ExpectQuery("SELECT token_balance, stakes_active, stakes_lost, rewards_earned FROM users").
		WithArgs(reporter).
		WillReturnRows(sqlmock.NewRows([]string{"token_balance", "stakes_active", "stakes_lost", "rewards_earned"}).
			AddRow(430, 20, 10, 200))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT seq FROM reports WHERE reporter = ? ORDER BY seq")).
		WithArgs(reporter).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3).AddRow(7))
	_, res = f.call(t, api.MethodGetUserInfo, reporter, nil)
	require.False(t, res.IsErr, res.Err)
	var info api.UserInfo
	require.NoError(t, res.Decode(&info))
	assert.Equal(t, api.UserInfo{
		ID:               reporter,
		TokenBalance:     430,
		ReportsSubmitted: []string{"3", "7"},
		RewardsEarned:    200,
		StakesActive:     20,
		StakesLost:       10,
	}, info)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBulkVerifyReports(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT reporter, status, stake_amount FROM reports").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"reporter", "status", "stake_amount"}).AddRow(reporter, "pending", 20))
	f.mock.ExpectExec("UPDATE reports SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE users SET token_balance").
		WithArgs(220, 20, 200, reporter).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(5, 1))
	f.mock.ExpectCommit()

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT reporter, status, stake_amount FROM reports").
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"reporter", "status", "stake_amount"}).AddRow(reporter, "rejected", 10))
	f.mock.ExpectRollback()

	_, res := f.call(t, api.MethodBulkVerifyReports, authority, api.BulkVerifyArgs{IDs: []string{"3", "4"}, Notes: "batch"})
	require.False(t, res.IsErr, res.Err)
	var verified []string
	require.NoError(t, res.Decode(&verified))
	assert.Equal(t, []string{"3"}, verified)
	require.NoError(t, f.mock.ExpectationsWereMet())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "3", f.publisher.events[0].event.ReportID)
	select {
	case p := <-f.payer.paid:
		assert.Equal(t, int64(200), p.tokens)
	case <-time.After(5 * time.Second):
		t.Fatal("reward was not paid out")
	}
}

func TestBulkVerifyTooManyReports(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	ids := make([]string, api.MaxBulkVerify+1)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}

	_, res := f.call(t, api.MethodBulkVerifyReports, authority, api.BulkVerifyArgs{IDs: ids})
	assert.True(t, res.IsErr)
	assert.Equal(t, "Cannot bulk verify more than 10 reports at once", res.Err)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSearchReports(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	minStake := int64(15)
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM reports r WHERE (LOWER(r.title) LIKE ? OR LOWER(r.description) LIKE ?) AND r.status = ? AND r.stake_amount >= ? ORDER BY r.seq DESC")).
		WithArgs("%50\\%%", "%50\\%%", "pending", 15).
		WillReturnRows(reportRows().
			AddRow(7, reporter, "50% off", "Scam", "fraud", "", nil, nil, "", "", "pending", 20, 0, "", nil, "",
				time.Date(2024, 1, 9, 18, 30, 0, 0, time.UTC), int64(0)))

	_, res := f.call(t, api.MethodSearchReports, authority, api.SearchArgs{Keyword: "50%", Status: api.StatusPending, MinStake: &minStake})
	require.False(t, res.IsErr, res.Err)
	var got []api.Report
	require.NoError(t, res.Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].ID)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetReportsPaginated(t *testing.T) {
	f := newFixture(t)
	f.expectAuthority(authority, true)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reports")).
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(3))
	f.mock.ExpectQuery(regexp.QuoteMeta("ORDER BY r.seq DESC LIMIT ? OFFSET ?")).
		WithArgs(2, 2).
		WillReturnRows(reportRows().
			AddRow(1, reporter, "Spill", "Oil", "environment", "", nil, nil, "", "", "pending", 10, 0, "", nil, "",
				time.Date(2024, 1, 9, 18, 30, 0, 0, time.UTC), int64(0)))

	_, res := f.call(t, api.MethodGetReportsPaginated, authority, api.PageArgs{Page: 1, PageSize: 2})
	require.False(t, res.IsErr, res.Err)
	var page api.ReportPage
	require.NoError(t, res.Decode(&page))
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Reports, 1)
	assert.Equal(t, "1", page.Reports[0].ID)

	f.expectAuthority(authority, true)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reports")).
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(3))
	_, res = f.call(t, api.MethodGetReportsPaginated, authority, api.PageArgs{Page: 5, PageSize: 2})
	require.False(t, res.IsErr, res.Err)
	require.NoError(t, res.Decode(&page))
	assert.Empty(t, page.Reports)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
