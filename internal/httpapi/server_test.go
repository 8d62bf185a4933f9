package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/antoniostano/mentora/internal/brain"
	"github.com/antoniostano/mentora/internal/config"
	"github.com/antoniostano/mentora/internal/hybrid"
	"github.com/antoniostano/mentora/internal/memory"
	"github.com/antoniostano/mentora/internal/perf"
	"github.com/antoniostano/mentora/internal/pipeline"
	"github.com/antoniostano/mentora/internal/retrieval"
)

// memIndex is a minimal in-process index for handler tests.
type memIndex struct {
	docs map[string][]retrieval.Document
}

func newMemIndex() *memIndex {
	return &memIndex{docs: make(map[string][]retrieval.Document)}
}

func (m *memIndex) Search(_ context.Context, collection, query string, topK int) ([]retrieval.RetrievedChunk, error) {
	var out []retrieval.RetrievedChunk
	for _, doc := range m.docs[collection] {
		if topK >= 0 && len(out) >= topK {
			break
		}
		if query == "" || strings.Contains(strings.ToLower(doc.Text), strings.ToLower(query)) {
			origin := retrieval.OriginGlobal
			if collection != retrieval.GlobalCollection {
				origin = retrieval.OriginPersonal
			}
			out = append(out, retrieval.RetrievedChunk{
				SourceID: doc.SourceID,
				ChunkID:  doc.ID + "#0",
				Text:     doc.Text,
				Score:    0.8,
				Origin:   origin,
			})
		}
	}
	return out, nil
}

func (m *memIndex) IndexDocument(_ context.Context, collection string, doc retrieval.Document) ([]string, error) {
	m.docs[collection] = append(m.docs[collection], doc)
	return []string{doc.ID + "#0"}, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Config{DefaultContextLimit: 5}
	store := memory.NewInMemoryStore()
	index := newMemIndex()
	agg := perf.NewAggregator()

	router := pipeline.NewRouter(store, agg, nil, pipeline.DefaultRouterConfig())
	if err := router.Register(pipeline.NewDirect(brain.NewMockClient())); err != nil {
		t.Fatalf("Register(direct) error = %v", err)
	}
	if err := router.Register(pipeline.NewStaged(brain.NewMockClient())); err != nil {
		t.Fatalf("Register(staged) error = %v", err)
	}

	orchestrator := hybrid.NewOrchestrator(index, store, hybrid.DefaultConfig(), nil)
	srv := New(cfg, orchestrator, router, store, index, agg, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func putJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build PUT %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestQueryEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	// Index a document first so retrieval has something to find.
	res := postJSON(t, ts.URL+"/v1/documents", map[string]string{
		"id":        "guide-1",
		"source_id": "study-guide",
		"text":      "Factoring means rewriting an expression as a product of simpler terms.",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("index status = %d, want 201", res.StatusCode)
	}
	res.Body.Close()

	res = postJSON(t, ts.URL+"/v1/query", map[string]any{
		"user_id": "user-1",
		"query":   "what is factoring?",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", res.StatusCode)
	}
	var qr queryResponse
	decodeBody(t, res, &qr)
	if qr.Pipeline != "direct" {
		t.Fatalf("pipeline = %q, want direct default", qr.Pipeline)
	}
	if qr.Result.Answer == "" {
		t.Fatalf("empty answer")
	}
	if qr.Degraded {
		t.Fatalf("Degraded = true on a healthy index")
	}
}

func TestQueryValidation(t *testing.T) {
	_, ts := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/query", map[string]string{"user_id": "user-1"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing query", res.StatusCode)
	}
}

func TestQueryUnknownPipelineIs400(t *testing.T) {
	_, ts := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/query", map[string]string{
		"user_id":  "user-1",
		"query":    "hello",
		"pipeline": "nonexistent",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown pipeline", res.StatusCode)
	}
}

func TestQueryCompareEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/query/compare", map[string]string{
		"user_id": "user-1",
		"query":   "how should I study?",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("compare status = %d, want 200", res.StatusCode)
	}
	var cmp pipeline.Comparison
	decodeBody(t, res, &cmp)
	if len(cmp.Executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(cmp.Executions))
	}
	if cmp.Winners.Fastest == "" {
		t.Fatalf("no fastest winner with all pipelines healthy")
	}
}

func TestProfileEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/profile/user-1")
	if err != nil {
		t.Fatalf("GET profile error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d, want 200", res.StatusCode)
	}
	var profile memory.UserProfile
	decodeBody(t, res, &profile)
	if profile.UserID != "user-1" {
		t.Fatalf("UserID = %q", profile.UserID)
	}

	res = putJSON(t, ts.URL+"/v1/profile/user-1/preferences", map[string]any{
		"preferences": map[string]string{"learning_style": "visual"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preferences status = %d, want 200", res.StatusCode)
	}
	decodeBody(t, res, &profile)
	if profile.Preferences["learning_style"] != "visual" {
		t.Fatalf("Preferences = %v", profile.Preferences)
	}

	// Unknown preference keys are a validation failure.
	res = putJSON(t, ts.URL+"/v1/profile/user-1/preferences", map[string]any{
		"preferences": map[string]string{"favorite_color": "green"},
	})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad preference status = %d, want 400", res.StatusCode)
	}

	res = putJSON(t, ts.URL+"/v1/profile/user-1/goals", map[string]any{
		"learning_goals": []string{"pass the algebra exam"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("goals status = %d, want 200", res.StatusCode)
	}
	decodeBody(t, res, &profile)
	if len(profile.LearningGoals) != 1 {
		t.Fatalf("LearningGoals = %v", profile.LearningGoals)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	res := postJSON(t, ts.URL+"/v1/memory/user-1/events", map[string]string{
		"interaction_type": "conversation",
		"content":          "asked about fractions",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("event status = %d, want 201", res.StatusCode)
	}
	var created map[string]string
	decodeBody(t, res, &created)
	if created["id"] == "" {
		t.Fatalf("missing id in event response")
	}

	res = putJSON(t, ts.URL+"/v1/memory/semantic", map[string]any{
		"concept_key": "fractions",
		"knowledge":   "A fraction represents part of a whole.",
		"confidence":  0.9,
	})
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("semantic status = %d, want 200", res.StatusCode)
	}

	// Invalid confidence fails validation.
	res = putJSON(t, ts.URL+"/v1/memory/semantic", map[string]any{
		"concept_key": "fractions",
		"knowledge":   "x",
		"confidence":  1.5,
	})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid semantic status = %d, want 400", res.StatusCode)
	}

	res, err := http.Get(ts.URL + "/v1/memory/stats")
	if err != nil {
		t.Fatalf("GET stats error = %v", err)
	}
	var stats memory.Stats
	decodeBody(t, res, &stats)
	if stats.Episodic != 1 || stats.Concepts != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPerfEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	// Before any traffic the recommendation is "none".
	res, err := http.Get(ts.URL + "/v1/perf/recommendation")
	if err != nil {
		t.Fatalf("GET recommendation error = %v", err)
	}
	var rec perf.Recommendation
	decodeBody(t, res, &rec)
	if rec.Pipeline != "none" {
		t.Fatalf("Pipeline = %q, want none before traffic", rec.Pipeline)
	}

	for i := 0; i < 3; i++ {
		r := postJSON(t, ts.URL+"/v1/query", map[string]string{
			"user_id": "user-1",
			"query":   "hello",
		})
		r.Body.Close()
	}

	res, err = http.Get(ts.URL + "/v1/perf/summary")
	if err != nil {
		t.Fatalf("GET summary error = %v", err)
	}
	var snap perf.Snapshot
	decodeBody(t, res, &snap)
	if len(snap.Pipelines) == 0 || snap.Pipelines[0].Samples != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}

	res, err = http.Get(ts.URL + "/v1/perf/recommendation")
	if err != nil {
		t.Fatalf("GET recommendation error = %v", err)
	}
	decodeBody(t, res, &rec)
	if rec.Pipeline != "direct" {
		t.Fatalf("Pipeline = %q, want direct after healthy traffic", rec.Pipeline)
	}
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}

	res, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", res.StatusCode)
	}
}
