package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codersbrain/refi-ready/internal/cloud"
	"github.com/codersbrain/refi-ready/internal/config"
	"github.com/codersbrain/refi-ready/internal/pipeline"
	"github.com/codersbrain/refi-ready/internal/reconcile"
	"github.com/codersbrain/refi-ready/pkg/types"
)

type stubStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *stubStore) Bucket() string { return "test-bucket" }

func (s *stubStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *stubStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return data, nil
}

func (s *stubStore) List(_ context.Context, prefix string) ([]cloud.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cloud.Object
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, cloud.Object{Key: key, LastModified: time.Now()})
		}
	}
	return out, nil
}

type stubCatalog struct{}

func (stubCatalog) EnsureDatabase(context.Context) error                 { return nil }
func (stubCatalog) RecreateTable(context.Context, cloud.TableSpec) error { return nil }
func (stubCatalog) StartCrawl(context.Context) error                     { return nil }
func (stubCatalog) CrawlerState(context.Context) (string, error)         { return cloud.CrawlerReady, nil }

type stubMatch struct{}

func (stubMatch) EnsureSchema(context.Context, string) (string, error)      { return "arn:schema", nil }
func (stubMatch) EnsureWorkflow(context.Context, cloud.WorkflowSpec) error  { return nil }
func (stubMatch) WorkflowVisible(context.Context, string) (bool, error)     { return true, nil }
func (stubMatch) StartJob(context.Context, string) (string, error)          { return "job-1", nil }
func (stubMatch) ActiveJob(context.Context, string) (string, error)         { return "job-1", nil }
func (stubMatch) JobStatus(context.Context, string, string) (string, error) { return cloud.JobSucceeded, nil }

type stubQuery struct {
	mu   sync.Mutex
	sqls map[string]string
	n    int
}

func (q *stubQuery) Start(_ context.Context, sql, _ string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sqls == nil {
		q.sqls = map[string]string{}
	}
	q.n++
	id := fmt.Sprintf("exec-%d", q.n)
	q.sqls[id] = sql
	return id, nil
}

func (q *stubQuery) Status(context.Context, string) (cloud.QueryStatus, error) {
	return cloud.QueryStatus{State: cloud.QuerySucceeded}, nil
}

func (q *stubQuery) ResultRows(_ context.Context, id string) ([][]string, error) {
	q.mu.Lock()
	sql := q.sqls[id]
	q.mu.Unlock()
	if strings.Contains(sql, "COUNT(*)") {
		return [][]string{{"_col0"}, {"1"}}, nil
	}
	return [][]string{
		{"borrower_id", "full_name", "marketing_category"},
		{"1", "Ava Stone", "Immediate Action"},
	}, nil
}

func writeSourceData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"borrower_information.csv": "borrower_id,property_id,first_name,last_name,city,state,credit_score\n1,p1,Ava,Stone,Austin,TX,720\n",
		"loan_information.csv":     "borrower_id,property_id,current_interest_rate,monthly_savings_est\n1,p1,7.5,310.5\n",
		"market_equity.csv":        "property_id,market_rate_offer,ltv_ratio\np1,5.25,62.5\n",
		"borrower_engagement.csv":  "borrower_id,paperless_billing,email_open_last_30d,mobile_app_login_last_30d,sms_opt_in\n1,true,yes,false,1\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func setupTestServer(t *testing.T) (*httptest.Server, *stubStore) {
	t.Helper()
	return setupTestServerWithOpts(t, writeSourceData(t), "", 0)
}

func setupTestServerWithOpts(t *testing.T, dataDir, apiKey string, maxBody int64) (*httptest.Server, *stubStore) {
	t.Helper()
	store := &stubStore{objects: map[string][]byte{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		Region: "us-east-1", Bucket: "test-bucket", Database: "test_db", Crawler: "test-crawler",
		DataDir: dataDir, RawPrefix: "raw/", OutputPrefix: "output/", ScratchPrefix: "athena-results/",
		Match: config.MatchConfig{SchemaName: "test_schema", WorkflowName: "test_workflow"},
		Waits: config.WaitConfig{
			CrawlerInterval: "1ms", CrawlerTimeout: "1s",
			WorkflowInterval: "1ms", WorkflowTimeout: "1s",
			MatchJobInterval: "1ms", MatchJobTimeout: "1s",
			QueryInterval: "1ms", QueryTimeout: "1s",
		},
	}

	state := pipeline.NewRunState()
	orc := pipeline.New(store, stubCatalog{}, stubMatch{}, &stubQuery{}, cfg, "", state, logger)
	runner := pipeline.NewRunner(orc, state, cfg.DataDir, cfg.Bucket)
	rec := reconcile.New(store, cfg.RawPrefix, cfg.OutputPrefix, logger)

	srv := New(":0", runner, state, rec, apiKey, maxBody)
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts, store
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "idle", body["pipeline"])
}

func TestStatusEndpointIdle(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/pipeline/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap types.RunSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, types.RunIdle, snap.Status)
	assert.Equal(t, "No run started yet.", snap.Message)
}

func TestTriggerRunMissingDataDir(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, filepath.Join(t.TempDir(), "absent"), "", 0)

	resp, err := http.Post(ts.URL+"/api/pipeline/run", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTriggerRunToCompletion(t *testing.T) {
	ts, store := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/pipeline/run", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var snap types.RunSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Equal(t, types.RunRunning, snap.Status)

	// Poll until the background run finishes.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/pipeline/status")
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
		resp.Body.Close()
		if snap.Status != types.RunRunning {
			break
		}
		require.True(t, time.Now().Before(deadline), "run did not finish in time")
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, types.RunSucceeded, snap.Status)
	require.NotNil(t, snap.SourceKey)
	assert.True(t, strings.HasPrefix(*snap.SourceKey, "s3://test-bucket/output/"))

	// Raw tables were uploaded and the leads endpoint now serves them.
	_, err = store.Get(context.Background(), "raw/loan_information.csv")
	require.NoError(t, err)
}

func TestTriggerRunConflict(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/pipeline/run", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The run may finish quickly; only assert the conflict when the second
	// trigger actually raced a running pipeline.
	resp, err = http.Post(ts.URL+"/api/pipeline/run", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusConflict {
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body["error"], "already running")
	} else {
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
}

func TestLeadsUnavailableBeforeAnyRun(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/leads")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "s3://test-bucket/output/", body["expected_location"])
}

func TestLeadsServedFromArtifact(t *testing.T) {
	ts, store := setupTestServer(t)

	artifact := "borrower_id,full_name,city,state,credit_score,current_interest_rate,market_rate_offer,monthly_savings_est,ltv_ratio,rate_spread\n" +
		"1,Ava Stone,Austin,TX,720,7.456,5.25,310.456,62.5,2.206\n"
	require.NoError(t, store.Put(context.Background(), "output/exec-1.csv", []byte(artifact)))

	resp, err := http.Get(ts.URL + "/api/leads")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count      int                `json:"count"`
		Provenance string             `json:"provenance"`
		Categories []string           `json:"categories"`
		Leads      []types.LeadRecord `json:"leads"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "s3://test-bucket/output/exec-1.csv", body.Provenance)
	assert.Equal(t, []string{"Immediate Action", "Hot Lead", "Watchlist", "Ineligible"}, body.Categories)
	require.Len(t, body.Leads, 1)

	// Numeric fields are rounded at serialization only.
	assert.Equal(t, 310.46, body.Leads[0].MonthlySavingsEst)
	assert.Equal(t, 7.46, body.Leads[0].CurrentInterestRate)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/debug/vars")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	_, ok := vars["runs_started"]
	assert.True(t, ok)
}

func TestRequestIDEchoedOrMinted(t *testing.T) {
	ts, _ := setupTestServer(t)

	req, _ := http.NewRequest("GET", ts.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "caller-supplied", resp.Header.Get("X-Request-ID"))
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 26)
}

func TestAPIKeyAuth_Valid(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, writeSourceData(t), "test-secret", 0)

	req, _ := http.NewRequest("GET", ts.URL+"/api/pipeline/status", nil)
	req.Header.Set("X-API-Key", "test-secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuth_Invalid(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, writeSourceData(t), "test-secret", 0)

	req, _ := http.NewRequest("GET", ts.URL+"/api/pipeline/status", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyAuth_HealthBypass(t *testing.T) {
	ts, _ := setupTestServerWithOpts(t, writeSourceData(t), "test-secret", 0)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
