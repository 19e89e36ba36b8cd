package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/leadscan/internal/blocklist"
	"horse.fit/leadscan/internal/enrich"
	"horse.fit/leadscan/internal/kv"
	"horse.fit/leadscan/internal/leads"
	"horse.fit/leadscan/internal/pipeline"
	"horse.fit/leadscan/internal/settings"
	"horse.fit/leadscan/internal/sources"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakePipeline struct {
	cronOpts []pipeline.CronOptions
	scanOpts []pipeline.ScanOptions
	cronRes  pipeline.CronResult
	scanRes  pipeline.ScanResult
	cronErr  error
	scanErr  error
}

func (p *fakePipeline) RunCron(_ context.Context, opts pipeline.CronOptions) (pipeline.CronResult, error) {
	p.cronOpts = append(p.cronOpts, opts)
	return p.cronRes, p.cronErr
}

func (p *fakePipeline) Scan(_ context.Context, opts pipeline.ScanOptions) (pipeline.ScanResult, error) {
	p.scanOpts = append(p.scanOpts, opts)
	return p.scanRes, p.scanErr
}

type fakeQueue struct {
	length int64
	dead   int64
	err    error
}

func (q fakeQueue) Len(context.Context) (int64, error)         { return q.length, q.err }
func (q fakeQueue) DeadLetters(context.Context) (int64, error) { return q.dead, q.err }

type testEnv struct {
	server   *Server
	pipeline *fakePipeline
	store    *kv.Memory
	leads    *leads.Store
	settings *settings.Store
	probed   []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	now := func() time.Time { return testNow }
	store := kv.NewMemory().WithClock(now)
	blocked := blocklist.NewStore(store, now)
	env := &testEnv{
		pipeline: &fakePipeline{},
		store:    store,
		leads:    leads.NewStore(store, leads.WithClock(now), leads.WithCompanyBlocker(blocked, 7*24*time.Hour)),
		settings: settings.NewStore(store),
	}
	env.server = NewServer(Deps{
		Store:     store,
		Pipeline:  env.pipeline,
		Queue:     fakeQueue{length: 4, dead: 1},
		Leads:     env.leads,
		Settings:  env.settings,
		Blocklist: blocked,
		FeedProbe: func(_ context.Context, rawURL string) (sources.Discovery, error) {
			env.probed = append(env.probed, rawURL)
			switch {
			case strings.Contains(rawURL, "empty"):
				return sources.Discovery{}, sources.ErrNoFeedFound
			case !strings.HasPrefix(rawURL, "http"):
				return sources.Discovery{}, sources.ErrInvalidFeedURL
			}
			return sources.Discovery{FeedURL: rawURL + "/rss", Title: "Example", ItemCount: 12}, nil
		},
		Now: now,
	}, zerolog.Nop(), Options{})
	return env
}

func (env *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, jsendBody) {
	t.Helper()

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	var decoded jsendBody
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, decoded
}

type jsendBody struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (b jsendBody) decode(t *testing.T, out any) {
	t.Helper()
	if err := json.Unmarshal(b.Data, out); err != nil {
		t.Fatalf("decode data %s: %v", string(b.Data), err)
	}
}

func (env *testEnv) seedLead(t *testing.T, id, company string, score int) {
	t.Helper()
	_, err := env.leads.Upsert(context.Background(), leads.Core{
		LeadID:     id,
		Title:      company + " launches a product",
		Link:       "https://news.example.com/" + id,
		PubDate:    testNow.Add(-time.Hour),
		Source:     "RSS",
		AIAnalysis: enrich.Analysis{CompanyName: company, AIScore: score},
		FinalScore: score,
	})
	require.NoError(t, err)
}

type downStore struct {
	kv.Store
}

func (downStore) Ping(context.Context) error { return errors.New("dial tcp: connection refused") }

func TestHealthPingsStore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body.Status != "success" {
		t.Fatalf("expected success, got %q", body.Status)
	}

	env.server.store = downStore{Store: env.store}
	rec, body = env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unreachable store, got %d", rec.Code)
	}
	if body.Status != "error" {
		t.Fatalf("expected error status, got %q", body.Status)
	}
}

func TestCronScanValidatesMinScore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/v1/scan/cron?minScore=101", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.pipeline.cronOpts) != 0 {
		t.Fatalf("expected pipeline not to run")
	}

	env.pipeline.cronRes = pipeline.CronResult{Processed: 3, NewLeads: 1, MinScore: 70}
	rec, body := env.do(t, http.MethodGet, "/api/v1/scan/cron?minScore=70", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	require.Len(t, env.pipeline.cronOpts, 1)
	require.NotNil(t, env.pipeline.cronOpts[0].MinScore)
	assert.Equal(t, 70, *env.pipeline.cronOpts[0].MinScore)

	var res pipeline.CronResult
	body.decode(t, &res)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.NewLeads)
}

func TestCronScanWithoutMinScoreUsesSettings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/v1/scan/cron", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	require.Len(t, env.pipeline.cronOpts, 1)
	assert.Nil(t, env.pipeline.cronOpts[0].MinScore)
}

func TestCronScanStoreFailureIs500(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.pipeline.cronErr = errors.New("connection refused")
	rec, body := env.do(t, http.MethodGet, "/api/v1/scan/cron", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	assert.Equal(t, "error", body.Status)
	assert.NotContains(t, body.Message, "connection refused")
}

func TestScanParsesQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.pipeline.scanRes = pipeline.ScanResult{Cursor: "next", Limit: 10}
	rec, body := env.do(t, http.MethodPost, "/api/v1/scan?limit=10&minScore=65&cursor=abc&batchSize=5&feedLimit=3&days=2&analyzeLimit=40", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	require.Len(t, env.pipeline.scanOpts, 1)
	opts := env.pipeline.scanOpts[0]
	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, "abc", opts.Cursor)
	assert.Equal(t, 5, opts.BatchSize)
	assert.Equal(t, 3, opts.FeedLimit)
	assert.Equal(t, 2, opts.Days)
	assert.Equal(t, 40, opts.AnalyzeLimit)
	require.NotNil(t, opts.MinScore)
	assert.Equal(t, 65, *opts.MinScore)

	var res pipeline.ScanResult
	body.decode(t, &res)
	assert.Equal(t, "next", res.Cursor)
}

func TestScanRejectsBadQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, target := range []string{
		"/api/v1/scan?limit=-1",
		"/api/v1/scan?batchSize=abc",
		"/api/v1/scan?minScore=150",
		"/api/v1/scan?days=-3",
	} {
		rec, body := env.do(t, http.MethodPost, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
		if body.Status != "fail" {
			t.Fatalf("%s: expected fail status, got %q", target, body.Status)
		}
	}
	if len(env.pipeline.scanOpts) != 0 {
		t.Fatalf("expected pipeline not to run, got %d calls", len(env.pipeline.scanOpts))
	}
}

func TestScanMapsPipelineErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code int
	}{
		{err: pipeline.ErrUnknownCursor, code: http.StatusNotFound},
		{err: pipeline.ErrInvalidScanArgs, code: http.StatusBadRequest},
		{err: errors.New("store down"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		env := newTestEnv(t)
		env.pipeline.scanErr = tc.err
		rec, _ := env.do(t, http.MethodPost, "/api/v1/scan?cursor=gone", "")
		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
	}
}

func TestQueueReportsLengths(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/v1/scan/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var data map[string]int64
	body.decode(t, &data)
	assert.Equal(t, int64(4), data["queueLength"])
	assert.Equal(t, int64(1), data["deadLetters"])
}

func TestLeadLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedLead(t, "lead-1", "Acme", 80)

	rec, body := env.do(t, http.MethodGet, "/api/v1/leads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Leads  []leads.Lead     `json:"leads"`
		Total  int              `json:"total"`
		Counts map[string]int64 `json:"counts"`
	}
	body.decode(t, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "lead-1", list.Leads[0].LeadID)
	assert.Equal(t, int64(1), list.Counts["NEW"])

	rec, body = env.do(t, http.MethodPatch, "/api/v1/leads/lead-1/state", `{"status":"contacted","tags":["hot"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched struct {
		State leads.State `json:"state"`
	}
	body.decode(t, &patched)
	assert.Equal(t, leads.StatusContacted, patched.State.Status)
	assert.Equal(t, []string{"hot"}, patched.State.Tags)

	rec, body = env.do(t, http.MethodGet, "/api/v1/leads?status=NEW", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body.decode(t, &list)
	assert.Equal(t, 0, list.Total)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/leads/lead-1/notes", `{"content":"  called the PR team  ","author":"kim"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/v1/leads/lead-1/notes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var notes struct {
		Notes []leads.Note `json:"notes"`
	}
	body.decode(t, &notes)
	require.Len(t, notes.Notes, 1)
	assert.Equal(t, "called the PR team", notes.Notes[0].Content)

	rec, body = env.do(t, http.MethodGet, "/api/v1/leads/lead-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Lead leads.Lead `json:"lead"`
	}
	body.decode(t, &detail)
	assert.Equal(t, int64(1), detail.Lead.NotesCount)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/leads/lead-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/v1/leads/lead-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, "/api/v1/leads/lead-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLeadsValidatesQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, target := range []string{
		"/api/v1/leads?status=ARCHIVED",
		"/api/v1/leads?sortBy=oldest",
		"/api/v1/leads?limit=0",
		"/api/v1/leads?limit=500",
	} {
		rec, _ := env.do(t, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}

	rec, _ := env.do(t, http.MethodGet, "/api/v1/leads?status=all&sortBy=score", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ALL to be accepted, got %d", rec.Code)
	}
}

func TestListNewLeadsHidesExcludedCompanies(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.settings.Save(ctx, settings.Settings{ExcludedCompanies: []string{"Acme"}}))
	env.seedLead(t, "lead-acme", "ACME", 90)
	env.seedLead(t, "lead-globex", "Globex", 75)

	var list struct {
		Leads []leads.Lead `json:"leads"`
		Total int          `json:"total"`
	}
	_, body := env.do(t, http.MethodGet, "/api/v1/leads?status=NEW", "")
	body.decode(t, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "lead-globex", list.Leads[0].LeadID)

	_, body = env.do(t, http.MethodGet, "/api/v1/leads", "")
	body.decode(t, &list)
	assert.Equal(t, 2, list.Total)
}

func TestExcludingLeadHidesCompanyFromNewList(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedLead(t, "lead-a", "Initech", 80)
	env.seedLead(t, "lead-b", "Initech", 70)

	rec, _ := env.do(t, http.MethodPatch, "/api/v1/leads/lead-a/state", `{"status":"EXCLUDED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Total int `json:"total"`
	}
	_, body := env.do(t, http.MethodGet, "/api/v1/leads?status=NEW", "")
	body.decode(t, &list)
	assert.Equal(t, 0, list.Total)
}

func TestBlockedCompaniesCanBeListedAndUnblocked(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedLead(t, "lead-a", "Initech", 80)
	env.seedLead(t, "lead-b", "Initech", 70)

	rec, _ := env.do(t, http.MethodPatch, "/api/v1/leads/lead-a/state", `{"status":"EXCLUDED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Blocked []blocklist.Entry `json:"blocked"`
	}
	rec, body := env.do(t, http.MethodGet, "/api/v1/config/blocked-companies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body.decode(t, &listed)
	require.Len(t, listed.Blocked, 1)
	assert.Equal(t, "Initech", listed.Blocked[0].Company)
	assert.True(t, testNow.Add(blocklist.ExcludedTTL).Equal(listed.Blocked[0].ExpiresAt))

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/config/blocked-companies/Initech", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Total int `json:"total"`
	}
	_, body = env.do(t, http.MethodGet, "/api/v1/leads?status=NEW", "")
	body.decode(t, &list)
	assert.Equal(t, 1, list.Total)

	rec, body = env.do(t, http.MethodGet, "/api/v1/config/blocked-companies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body.decode(t, &listed)
	assert.Empty(t, listed.Blocked)
}

func TestUpdateStateErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedLead(t, "lead-1", "Acme", 80)

	rec, _ := env.do(t, http.MethodPatch, "/api/v1/leads/lead-1/state", `{"status":"ARCHIVED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodPatch, "/api/v1/leads/missing/state", `{"status":"WON"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.do(t, http.MethodPatch, "/api/v1/leads/lead-1/state", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodPatch, "/api/v1/leads/lead-1/state", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotesErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedLead(t, "lead-1", "Acme", 80)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/leads/lead-1/notes", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/api/v1/leads/missing/notes", `{"content":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/v1/leads/missing/notes", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulkStateAndDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedLead(t, "lead-1", "Acme", 80)
	env.seedLead(t, "lead-2", "Globex", 70)

	rec, body := env.do(t, http.MethodPost, "/api/v1/leads/bulk-state", `{"ids":["lead-1","lead-2","missing"],"status":"ON_HOLD"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated map[string]int
	body.decode(t, &updated)
	assert.Equal(t, 2, updated["updated"])

	rec, _ = env.do(t, http.MethodPost, "/api/v1/leads/bulk-state", `{"ids":[],"status":"WON"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/api/v1/leads/bulk-state", `{"ids":["lead-1"],"status":"MAYBE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/v1/leads/bulk-delete", `{"ids":["lead-1","lead-2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted map[string]int
	body.decode(t, &deleted)
	assert.Equal(t, 2, deleted["deleted"])

	counts, err := env.leads.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts["ALL"])

	rec, _ = env.do(t, http.MethodPost, "/api/v1/leads/bulk-delete", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigMasksSecret(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/v1/config", `{"naverClientId":"id","naverClientSecret":"s3cret","keywords":[" launch "],"minScore":55}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3cret")

	var saved struct {
		Config settings.Settings `json:"config"`
	}
	body.decode(t, &saved)
	assert.Equal(t, settings.MaskedSecret, saved.Config.NaverClientSecret)
	assert.Equal(t, []string{"launch"}, saved.Config.Keywords)

	stored, err := env.settings.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s3cret", stored.NaverClientSecret)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")
}

func TestConfigRejectsInvalidUpdate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, payload := range []string{`{"minScore":"high"}`, `not json`, ``} {
		rec, _ := env.do(t, http.MethodPost, "/api/v1/config", payload)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: expected 400, got %d", payload, rec.Code)
		}
	}
}

func TestTestFeedMapsDiscoveryErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/v1/config/test-feed", `{"url":" https://blog.example.com "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var found sources.Discovery
	body.decode(t, &found)
	assert.Equal(t, "https://blog.example.com/rss", found.FeedURL)
	assert.Equal(t, 12, found.ItemCount)
	assert.Equal(t, []string{"https://blog.example.com"}, env.probed)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/config/test-feed", `{"url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/api/v1/config/test-feed", `{"url":"https://empty.example.com"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/api/v1/config/test-feed", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "fail", body.Status)
}

func TestParseOptionalInt(t *testing.T) {
	t.Parallel()

	value, err := parseOptionalInt(" 42 ", 0, 100)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, 42, *value)

	value, err = parseOptionalInt("", 0, 100)
	require.NoError(t, err)
	assert.Nil(t, value)

	_, err = parseOptionalInt("4.5", 0, 100)
	assert.Error(t, err)
	_, err = parseOptionalInt("-1", 0, 100)
	assert.Error(t, err)
}
