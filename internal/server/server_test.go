package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/biograph/internal/queue"
	mid "github.com/OFFIS-RIT/biograph/internal/server/middleware"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rabbitmq/amqp091-go"
)

type fakeRuns struct {
	runs map[string]graphstorage.BatchRun
}

func (r *fakeRuns) CreateBatchRun(ctx context.Context, runID string, request []byte) (bool, error) {
	if _, ok := r.runs[runID]; ok {
		return false, nil
	}
	r.runs[runID] = graphstorage.BatchRun{RunID: runID, Status: graphstorage.RunPending, Request: request}
	return true, nil
}

func (r *fakeRuns) GetBatchRun(ctx context.Context, runID string) (graphstorage.BatchRun, error) {
	run, ok := r.runs[runID]
	if !ok {
		return graphstorage.BatchRun{}, graphstorage.ErrRunNotFound
	}
	return run, nil
}

type fakeGraph struct {
	stats common.GraphStats
	err   error
}

func (g fakeGraph) Stats(ctx context.Context) (common.GraphStats, error) { return g.stats, g.err }

type fakeQueue struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (q *fakeQueue) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if q.err != nil {
		return q.err
	}
	q.keys = append(q.keys, key)
	q.bodies = append(q.bodies, msg.Body)
	return nil
}

type fixture struct {
	reg   *prometheus.Registry
	runs  *fakeRuns
	queue *fakeQueue
	app   *mid.App
}

func newFixture(apiKey string) *fixture {
	reg, enqueued := NewRegistry()
	f := &fixture{
		reg:   reg,
		runs:  &fakeRuns{runs: map[string]graphstorage.BatchRun{}},
		queue: &fakeQueue{},
	}
	f.app = &mid.App{
		Runs: f.runs,
		Graph: fakeGraph{stats: common.GraphStats{
			NodesByLabel: map[string]int64{"Gene": 2},
			EdgesByType:  map[string]int64{"UPREGULATES": 1},
			Provenance:   3,
		}},
		Queue:        f.queue,
		Enqueued:     enqueued,
		MasterAPIKey: apiKey,
	}
	return f
}

func (f *fixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	e := New(f.app, f.reg)
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := newFixture("secret").do(http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateBatch(t *testing.T) {
	f := newFixture("")
	rec := f.do(http.MethodPost, "/batches", `{"run_id":"r1","source":"postgres","from_id":"PMC1","to_id":"PMC5"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /batches = %d %s", rec.Code, rec.Body.String())
	}
	if len(f.queue.keys) != 1 || f.queue.keys[0] != queue.BatchQueue {
		t.Fatalf("queued %v", f.queue.keys)
	}
	msg, err := queue.DecodeBatchMsg(f.queue.bodies[0])
	if err != nil {
		t.Fatalf("queued message does not decode: %v", err)
	}
	if msg.RunID != "r1" || msg.FromID != "PMC1" || msg.ToID != "PMC5" {
		t.Fatalf("queued %+v", msg)
	}
	if f.runs.runs["r1"].Status != graphstorage.RunPending {
		t.Fatalf("run not recorded as pending: %+v", f.runs.runs)
	}
	if got := testutil.ToFloat64(f.app.Enqueued); got != 1 {
		t.Fatalf("enqueued counter = %v", got)
	}

	rec = f.do(http.MethodPost, "/batches", `{"run_id":"r1","source":"postgres"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate run id = %d, want 409", rec.Code)
	}
}

func TestCreateBatch_GeneratesRunID(t *testing.T) {
	f := newFixture("")
	rec := f.do(http.MethodPost, "/batches", `{"source":"s3","watermark":"2026-05-01T00:00:00Z"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /batches = %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.RunID == "" {
		t.Fatalf("response %s, %v", rec.Body.String(), err)
	}
	if _, ok := f.runs.runs[resp.RunID]; !ok {
		t.Fatalf("generated run %q not recorded", resp.RunID)
	}
}

func TestCreateBatch_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "missing source", body: `{"run_id":"r"}`},
		{name: "unknown source", body: `{"source":"ftp"}`},
		{name: "reversed range", body: `{"source":"postgres","from_id":"z","to_id":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("")
			rec := f.do(http.MethodPost, "/batches", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("POST /batches = %d, want 400", rec.Code)
			}
			if len(f.queue.keys) != 0 || len(f.runs.runs) != 0 {
				t.Fatalf("rejected request must not be queued or recorded")
			}
		})
	}
}

func TestCreateBatch_QueueDown(t *testing.T) {
	f := newFixture("")
	f.queue.err = errors.New("channel closed")
	rec := f.do(http.MethodPost, "/batches", `{"run_id":"r9","source":"postgres"}`, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("POST /batches = %d, want 503", rec.Code)
	}
}

func TestGetBatch(t *testing.T) {
	f := newFixture("")
	f.runs.runs["done"] = graphstorage.BatchRun{
		RunID:   "done",
		Status:  graphstorage.RunFinished,
		Request: json.RawMessage(`{}`),
		Summary: json.RawMessage(`{"processed_count":3}`),
	}

	rec := f.do(http.MethodGet, "/batches/done", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"processed_count":3`) {
		t.Fatalf("GET /batches/done = %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodGet, "/batches/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET /batches/missing = %d, want 404", rec.Code)
	}
}

func TestStats(t *testing.T) {
	f := newFixture("")
	rec := f.do(http.MethodGet, "/stats", "", "")
	var st common.GraphStats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("GET /stats = %d %s", rec.Code, rec.Body.String())
	}
	if st.NodesByLabel["Gene"] != 2 || st.Provenance != 3 {
		t.Fatalf("stats %+v", st)
	}

	f.app.Graph = fakeGraph{err: common.ErrStoreUnavailable}
	if rec := f.do(http.MethodGet, "/stats", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /stats with store down = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture("secret")
	if rec := f.do(http.MethodGet, "/stats", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d, want 401", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/stats", "", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/stats", "", "secret"); rec.Code != http.StatusOK {
		t.Fatalf("valid token = %d, want 200", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	rec := newFixture("").do(http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "biograph_batches_enqueued_total") {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
}
