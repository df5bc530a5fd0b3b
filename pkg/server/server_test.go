package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/entrhq/gridscout/pkg/catalog"
	"github.com/entrhq/gridscout/pkg/explorer"
	"github.com/entrhq/gridscout/pkg/heal"
	"github.com/entrhq/gridscout/pkg/metrics"
	"github.com/entrhq/gridscout/pkg/types"
	"github.com/entrhq/gridscout/pkg/workflow"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	calls atomic.Int32
	got   chan workflow.Request
}

func (f *fakePipeline) Run(_ context.Context, req workflow.Request, emit func(*types.Event)) (*workflow.Result, error) {
	f.calls.Add(1)
	if f.got != nil {
		f.got <- req
	}
	emit(types.NewStatusEvent("sess", "NAVIGATING", "navigating to "+req.URL))
	emit(types.NewStatusEvent("sess", "COLUMNS_CAPTURED", "captured 3 columns"))
	emit(types.NewCompleteEvent("sess", "COMPLETED", "done"))
	return &workflow.Result{SessionID: "sess", Status: explorer.StatusCompleted, RowCount: 4}, nil
}

type fakeTester struct {
	rows    int
	dataDir string
}

func (f *fakeTester) Execute(_ context.Context, path string, p heal.Params) (*heal.TestOutcome, error) {
	out := &heal.TestOutcome{Success: true, RowCount: f.rows, ArtifactPath: path, Stdout: "SUCCESS: Extracted rows for " + p.SearchQuery}
	if f.dataDir != "" {
		out.DataPath = filepath.Join(f.dataDir, "out.csv")
	}
	return out, nil
}

func newTestServer(t *testing.T, pipeline Pipeline, tester heal.Tester, scripts ...string) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("site: x\n"), 0o644))
	}
	reg := metrics.NewRegistry()
	s := New(Config{
		Pipeline:             pipeline,
		Catalog:              catalog.New(dir),
		Tester:               tester,
		DefaultMaxConcurrent: 2,
		Registry:             reg,
		Metrics:              metrics.MustNewMetrics(reg),
		EnableCORS:           true,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return ts, dir
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestListScripts(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil, "harris_v1.yaml", "harris_v2.yaml")

	resp, err := http.Get(ts.URL + "/api/scripts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Scripts []catalog.Entry `json:"scripts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Scripts, 2)
}

func TestRunLifecycle(t *testing.T) {
	pipeline := &fakePipeline{got: make(chan workflow.Request, 1)}
	ts, _ := newTestServer(t, pipeline, nil)

	resp, out := postJSON(t, ts.URL+"/api/run", map[string]string{"url": "https://records.county.gov", "search_query": "SMITH"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, _ := out["run_id"].(string)
	require.NotEmpty(t, id)

	conn := dial(t, ts, "/ws/agent/"+id)
	var statuses []string
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if _, ok := msg["run_id"]; ok {
			assert.Equal(t, "COMPLETED", msg["status"])
			assert.Equal(t, true, msg["finished"])
			assert.Equal(t, float64(4), msg["row_count"])
			break
		}
		statuses = append(statuses, msg["status"].(string))
	}
	assert.Equal(t, []string{"NAVIGATING", "COLUMNS_CAPTURED", "COMPLETED"}, statuses)

	req := <-pipeline.got
	assert.Equal(t, DefaultStartDate, req.StartDate)
	assert.NotEmpty(t, req.EndDate)

	conn2 := dial(t, ts, "/ws/agent/"+id)
	var first map[string]interface{}
	require.NoError(t, conn2.ReadJSON(&first))
	assert.Equal(t, "NAVIGATING", first["status"])
	assert.Equal(t, int32(1), pipeline.calls.Load())
}

func TestRunRequiresFields(t *testing.T) {
	ts, _ := newTestServer(t, &fakePipeline{}, nil)
	resp, _ := postJSON(t, ts.URL+"/api/run", map[string]string{"url": "https://x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRunStream(t *testing.T) {
	ts, _ := newTestServer(t, &fakePipeline{}, nil)
	conn := dial(t, ts, "/ws/agent/nope")

	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "Run not found", msg["error"])
}

func TestExecuteScript(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "out.csv"), []byte("Name\nSMITH\nSMYTHE\n"), 0o644))
	ts, _ := newTestServer(t, nil, &fakeTester{rows: 2, dataDir: dataDir}, "harris_v1.yaml")

	resp, out := postJSON(t, ts.URL+"/api/execute-script", map[string]string{"script_path": "harris_v1.yaml", "search_query": "SMITH"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(2), out["row_count"])
	data, _ := out["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "SMYTHE", data[1].(map[string]interface{})["Name"])
}

func TestExecuteScriptNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil, &fakeTester{}, "harris_v1.yaml")

	resp, out := postJSON(t, ts.URL+"/api/execute-script", map[string]string{"script_path": "/etc/passwd", "search_query": "SMITH"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Script file not found", out["error"])
}

func TestParallelStream(t *testing.T) {
	ts, _ := newTestServer(t, nil, &fakeTester{rows: 3}, "a_v1.yaml", "b_v1.yaml", "c_v1.yaml", "c_v2.yaml")
	conn := dial(t, ts, "/ws/parallel")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"search_query": "SMITH"}))

	var events []types.Event
	for {
		var e types.Event
		require.NoError(t, conn.ReadJSON(&e))
		events = append(events, e)
		if e.Type == types.EventTypeParallelComplete {
			break
		}
	}

	start := events[0]
	assert.Equal(t, types.EventTypeParallelStart, start.Type)
	require.NotNil(t, start.MaxConcurrent)
	assert.Equal(t, 2, *start.MaxConcurrent)
	assert.Equal(t, 3, start.Total)

	done := events[len(events)-1]
	assert.Equal(t, 3, done.Successful)
	assert.Equal(t, 9, done.TotalRows)
	assert.Len(t, events, 1+2*3+1)
}

func TestParallelWithPatterns(t *testing.T) {
	ts, _ := newTestServer(t, nil, &fakeTester{rows: 1}, "brevard_v1.yaml", "harris_v1.yaml")
	conn := dial(t, ts, "/ws/parallel")

	zero := 0
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"scripts": []string{"brevard*"}, "max_concurrent": zero}))

	var start types.Event
	require.NoError(t, conn.ReadJSON(&start))
	assert.Equal(t, types.EventTypeParallelStart, start.Type)
	assert.Equal(t, 0, *start.MaxConcurrent)
	assert.Equal(t, 1, start.Total)
}

func TestParallelNoMatches(t *testing.T) {
	ts, _ := newTestServer(t, nil, &fakeTester{}, "harris_v1.yaml")
	conn := dial(t, ts, "/ws/parallel")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"scripts": []string{"nothing*"}}))
	var e types.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, types.EventTypeError, e.Type)
	assert.NotEmpty(t, e.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
