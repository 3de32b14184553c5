package reportsync

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"whispr/api"
	"whispr/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorityManagement(t *testing.T) {
	fs := newFakeStore(map[string]string{
		api.MethodIsAuthority:       `{"Ok":true}`,
		api.MethodAddNewAuthority:   `{"Ok":null}`,
		api.MethodRemoveAuthority:   `{"Err":"Cannot remove yourself as authority"}`,
		api.MethodGetAllAuthorities: `{"Ok":[{"id":"0xa","reports_reviewed":4,"approval_rate":0.75}]}`,
	})
	c := newTestClient(fs, kv.NewMemoryStore())
	ctx := context.Background()

	ok, err := c.IsAuthority(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.AddAuthority(ctx, " 0xnew "))
	var args api.AuthorityArgs
	require.NoError(t, json.Unmarshal(fs.args[api.MethodAddNewAuthority], &args))
	assert.Equal(t, "0xnew", args.ID)
	assert.ErrorIs(t, c.AddAuthority(ctx, ""), ErrValidation)

	err = c.RemoveAuthority(ctx, "0xa")
	assert.ErrorIs(t, err, ErrRemoteRejected)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Cannot remove yourself as authority", remote.Message)

	all, err := c.GetAllAuthorities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []api.Authority{{ID: "0xa", ReportsReviewed: 4, ApprovalRate: 0.75}}, all)
}

func TestAuthorityManagementOffline(t *testing.T) {
	c := newTestClient(newFakeStore(nil), kv.NewMemoryStore())
	ctx := context.Background()

	_, err := c.IsAuthority(ctx)
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.ErrorIs(t, c.AddAuthority(ctx, "0xnew"), ErrConnectionUnavailable)
	assert.ErrorIs(t, c.RemoveAuthority(ctx, "0xold"), ErrConnectionUnavailable)
	_, err = c.GetAllAuthorities(ctx)
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	_, err = c.BulkVerifyReports(ctx, []string{"1"}, "")
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	_, err = c.GetReportsByCategory(ctx, "fraud")
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	_, err = c.SearchReports(ctx, api.SearchArgs{})
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	_, err = c.GetReportsPaginated(ctx, api.PageArgs{PageSize: 10})
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	_, err = c.GetUserInfo(ctx)
	assert.ErrorIs(t, err, ErrConnectionUnavailable)
}

func TestBulkVerifyReports(t *testing.T) {
	fs := newFakeStore(map[string]string{api.MethodBulkVerifyReports: `{"Ok":["1","3"]}`})
	c := newTestClient(fs, kv.NewMemoryStore())
	ctx := context.Background()

	verified, err := c.BulkVerifyReports(ctx, []string{"1", " 2 ", "3"}, "batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, verified)
	var args api.BulkVerifyArgs
	require.NoError(t, json.Unmarshal(fs.args[api.MethodBulkVerifyReports], &args))
	assert.Equal(t, api.BulkVerifyArgs{IDs: []string{"1", "2", "3"}, Notes: "batch"}, args)

	tooMany := make([]string, api.MaxBulkVerify+1)
	for i := range tooMany {
		tooMany[i] = strconv.Itoa(i)
	}
	fs.calls = nil
	_, err = c.BulkVerifyReports(ctx, tooMany, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = c.BulkVerifyReports(ctx, nil, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = c.BulkVerifyReports(ctx, []string{"1", " "}, "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, fs.calls)
}

func TestReportQueries(t *testing.T) {
	fs := newFakeStore(map[string]string{
		api.MethodGetReportsByCategory:  `{"Ok":[{"id":"1","title":"Fake invoices","category":"Fraud","status":"pending"}]}`,
		api.MethodGetReportsByDateRange: `{"Ok":[{"id":"2","status":"verified","date_submitted":"2024-01-09T18:30:00Z"}]}`,
		api.MethodSearchReports:         `{"Ok":[{"id":"3","status":"Pending"},{"id":"3","status":"pending"}]}`,
		api.MethodGetReportsPaginated:   `{"Ok":{"reports":[{"id":"5","status":"pending"},{"status":"pending"}],"total":7}}`,
	})
	c := newTestClient(fs, kv.NewMemoryStore())
	ctx := context.Background()

	byCategory, err := c.GetReportsByCategory(ctx, "fraud")
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "1", byCategory[0].ID)
	_, err = c.GetReportsByCategory(ctx, " ")
	assert.ErrorIs(t, err, ErrValidation)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	byDate, err := c.GetReportsByDateRange(ctx, api.DateRangeArgs{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.Equal(t, "2024-01-09", byDate[0].Date)
	assert.Equal(t, "other", byDate[0].Category)
	_, err = c.GetReportsByDateRange(ctx, api.DateRangeArgs{From: to, To: from})
	assert.ErrorIs(t, err, ErrValidation)

	minStake, maxStake := int64(20), int64(10)
	_, err = c.SearchReports(ctx, api.SearchArgs{MinStake: &minStake, MaxStake: &maxStake})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = c.SearchReports(ctx, api.SearchArgs{Status: "lost"})
	assert.ErrorIs(t, err, ErrValidation)
	found, err := c.SearchReports(ctx, api.SearchArgs{Keyword: "cash", Status: api.StatusPending})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, api.StatusPending, found[0].Status)
	var search api.SearchArgs
	require.NoError(t, json.Unmarshal(fs.args[api.MethodSearchReports], &search))
	assert.Equal(t, "cash", search.Keyword)

	page, err := c.GetReportsPaginated(ctx, api.PageArgs{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(7), page.Total)
	require.Len(t, page.Reports, 1)
	assert.Equal(t, "5", page.Reports[0].ID)
	_, err = c.GetReportsPaginated(ctx, api.PageArgs{Page: -1, PageSize: 2})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = c.GetReportsPaginated(ctx, api.PageArgs{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetUserInfo(t *testing.T) {
	store := kv.NewMemoryStore()
	info := `{"id":"0xa","token_balance":430,"reports_submitted":["3","7"],"rewards_earned":200,"stakes_active":20,"stakes_lost":0}`
	c := newTestClient(newFakeStore(map[string]string{api.MethodGetUserInfo: `{"Ok":` + info + `}`}), store)

	got, err := c.GetUserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(430), got.TokenBalance)
	assert.Equal(t, []string{"3", "7"}, got.ReportsSubmitted)
	v, ok, _ := store.Get(keyTokenBalance)
	assert.True(t, ok)
	assert.Equal(t, "430", v)

	c = newTestClient(newFakeStore(map[string]string{api.MethodGetUserInfo: `{"Ok":[` + info + `]}`}), kv.NewMemoryStore())
	got, err = c.GetUserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.RewardsEarned)

	for _, body := range []string{`{"Ok":null}`, `{"Ok":[]}`} {
		c = newTestClient(newFakeStore(map[string]string{api.MethodGetUserInfo: body}), kv.NewMemoryStore())
		_, err = c.GetUserInfo(context.Background())
		assert.ErrorIs(t, err, ErrNotFound, body)
	}
}
