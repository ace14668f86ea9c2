package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wrannaman/agentdo/api"
	"github.com/wrannaman/agentdo/auth"
	"github.com/wrannaman/agentdo/board"
	"github.com/wrannaman/agentdo/ratelimit"
	"github.com/wrannaman/agentdo/store"
)

// permissiveLimiter lets everything through. Rate behavior gets its own test.
type permissiveLimiter struct{}

func (permissiveLimiter) Check(key string, limit int, window time.Duration) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Remaining: limit}
}

func (permissiveLimiter) Allow(policy ratelimit.Policy, key string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Remaining: policy.Limit}
}

// deniedPolicies denies the named policies and allows the rest.
type deniedPolicies map[string]time.Duration

func (d deniedPolicies) Check(key string, limit int, window time.Duration) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true}
}

func (d deniedPolicies) Allow(policy ratelimit.Policy, key string) ratelimit.Decision {
	if after, ok := d[policy.Name]; ok {
		return ratelimit.Decision{Allowed: false, RetryAfter: after}
	}
	return ratelimit.Decision{Allowed: true}
}

type fixture struct {
	handler http.Handler
	key     string
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	keys := auth.NewKeyring(s)
	key, err := keys.Mint(t.Context(), "poster@example.com", "203.0.113.1")
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	b := board.New(s)
	srv := api.NewServer(b, keys, limiter, api.WithPollBounds(time.Second, 2*time.Second))
	return &fixture{handler: srv.Handler(), key: key.Key}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("x-api-key", f.key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createTask(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	if body == nil {
		body = map[string]interface{}{"title": "summarize report"}
	}
	rec := f.do(t, "POST", "/api/tasks", body, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body)
	}
	var task board.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return task.ID
}

func TestMintKey(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	rec := f.do(t, "POST", "/api/keys", map[string]string{"email": "w@example.com"}, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.Key, auth.KeyPrefix) {
		t.Errorf("expected key with prefix %q, got %q", auth.KeyPrefix, resp.Key)
	}
}

func TestCreateRequiresKey(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	rec := f.do(t, "POST", "/api/tasks", map[string]string{"title": "x"}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/tasks", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("x-api-key", "ab_bogus")
	rec2 := httptest.NewRecorder()
	f.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", rec2.Code)
	}
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	id := f.createTask(t, map[string]interface{}{
		"title": "scrape pricing page",
		"tags":  []string{"scrape"},
	})

	rec := f.do(t, "GET", "/api/tasks/"+id, nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var task board.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Status != board.StatusOpen {
		t.Errorf("expected open, got %s", task.Status)
	}
	if task.PostedBy == "" {
		t.Error("posted_by should default to the caller's truncated key")
	}
}

func TestCreateValidationStatus(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	rec := f.do(t, "POST", "/api/tasks", map[string]string{"title": ""}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing title, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "BAD_INPUT" {
		t.Errorf("expected BAD_INPUT, got %q", resp.Code)
	}
}

func TestGetUnknownTask(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	rec := f.do(t, "GET", "/api/tasks/nope", nil, false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	id := f.createTask(t, nil)

	rec := f.do(t, "POST", "/api/tasks/"+id+"/claim", map[string]string{"agent_id": "agent-7"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim returned %d: %s", rec.Code, rec.Body)
	}

	// Claiming again conflicts with 409.
	rec = f.do(t, "POST", "/api/tasks/"+id+"/claim", map[string]string{"agent_id": "agent-8"}, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = f.do(t, "POST", "/api/tasks/"+id+"/deliver",
		map[string]interface{}{"result": map[string]string{"answer": "42"}}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver returned %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(t, "POST", "/api/tasks/"+id+"/complete", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete returned %d: %s", rec.Code, rec.Body)
	}

	var task board.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Status != board.StatusCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
}

func TestSchemaGateOverHTTP(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	id := f.createTask(t, map[string]interface{}{
		"title": "find the zip code",
		"output_schema": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"zip": map[string]string{"type": "string"}},
			"required":   []string{"zip"},
		},
	})

	if rec := f.do(t, "POST", "/api/tasks/"+id+"/claim", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("claim returned %d", rec.Code)
	}

	rec := f.do(t, "POST", "/api/tasks/"+id+"/deliver",
		map[string]interface{}{"result": map[string]int{"zip": 94103}}, true)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		Code             string          `json:"code"`
		ValidationErrors []string        `json:"validation_errors"`
		ExpectedSchema   json.RawMessage `json:"expected_schema"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "VALIDATION_FAILED" {
		t.Errorf("expected VALIDATION_FAILED, got %q", resp.Code)
	}
	if len(resp.ValidationErrors) == 0 {
		t.Error("expected validation errors in the body")
	}
	if len(resp.ExpectedSchema) == 0 {
		t.Error("expected the schema echoed in the body")
	}

	rec = f.do(t, "POST", "/api/tasks/"+id+"/deliver",
		map[string]interface{}{"result": map[string]string{"zip": "94103"}}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("corrected delivery returned %d: %s", rec.Code, rec.Body)
	}
}

func TestRejectOverHTTP(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	id := f.createTask(t, nil)
	f.do(t, "POST", "/api/tasks/"+id+"/claim", nil, true)
	f.do(t, "POST", "/api/tasks/"+id+"/deliver",
		map[string]interface{}{"result": map[string]string{"bad": "work"}}, true)

	rec := f.do(t, "POST", "/api/tasks/"+id+"/reject",
		map[string]string{"reason": "numbers do not add up"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject returned %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Task   *board.Task `json:"task"`
		Reason string      `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Task == nil || resp.Task.Status != board.StatusOpen {
		t.Errorf("expected open after reject, got %+v", resp.Task)
	}
	if resp.Reason != "numbers do not add up" {
		t.Errorf("expected the reason echoed back, got %q", resp.Reason)
	}
}

func TestListFilters(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	f.createTask(t, map[string]interface{}{"title": "a", "tags": []string{"scrape"}})
	f.createTask(t, map[string]interface{}{"title": "b", "tags": []string{"translate"}})

	rec := f.do(t, "GET", "/api/tasks?tags=scrape", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var resp struct {
		Tasks []*board.Task `json:"tasks"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Tasks) != 1 || resp.Tasks[0].Title != "a" {
		t.Errorf("tag filter wrong: total=%d tasks=%v", resp.Total, resp.Tasks)
	}
}

func TestNextImmediateAndEmpty(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	// Empty board with wait=0 probes once and signals retry.
	rec := f.do(t, "GET", "/api/tasks/next?wait=0", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("next returned %d", rec.Code)
	}
	var resp struct {
		Task  *board.Task `json:"task"`
		Retry bool        `json:"retry"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Retry || resp.Task != nil {
		t.Fatalf("expected retry with no task, got %+v", resp)
	}

	id := f.createTask(t, map[string]interface{}{"title": "work", "tags": []string{"scrape"}})

	rec = f.do(t, "GET", "/api/tasks/next?tags=scrape", nil, true)
	resp.Task, resp.Retry = nil, false
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Retry || resp.Task == nil || resp.Task.ID != id {
		t.Fatalf("expected the open task, got %+v", resp)
	}
}

func TestMCPEndpoint(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	rec := f.do(t, "POST", "/api/mcp",
		map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("mcp endpoint returned %d", rec.Code)
	}

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Result.Tools) == 0 {
		t.Fatal("expected board tools in the list")
	}
}

func TestPollRoutesRequireKey(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	id := f.createTask(t, nil)

	for _, path := range []string{
		"/api/tasks/next?wait=0",
		"/api/tasks/" + id + "/result?wait=0",
	} {
		rec := f.do(t, "GET", path, nil, false)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without a key returned %d, want 401", path, rec.Code)
		}

		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("x-api-key", "ab_bogus")
		rec = httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s with an unknown key returned %d, want 401", path, rec.Code)
		}
	}
}

func TestNextAliases(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	id := f.createTask(t, map[string]interface{}{"title": "crawl", "tags": []string{"scrape"}})

	// skills= and timeout= are worker-facing aliases for tags= and wait=.
	rec := f.do(t, "GET", "/api/tasks/next?skills=scrape&timeout=0", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("next returned %d", rec.Code)
	}
	var resp struct {
		Task  *board.Task `json:"task"`
		Retry bool        `json:"retry"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Retry || resp.Task == nil || resp.Task.ID != id {
		t.Fatalf("expected the tagged task, got %+v", resp)
	}

	rec = f.do(t, "GET", "/api/tasks/next?skills=translate&timeout=0", nil, true)
	resp.Task, resp.Retry = nil, false
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Retry || resp.Task != nil {
		t.Fatalf("mismatched skill must signal retry, got %+v", resp)
	}
}

func TestResultPoll(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	id := f.createTask(t, nil)
	f.do(t, "POST", "/api/tasks/"+id+"/claim", nil, true)
	f.do(t, "POST", "/api/tasks/"+id+"/deliver",
		map[string]interface{}{"result": map[string]string{"answer": "42"}}, true)

	rec := f.do(t, "GET", "/api/tasks/"+id+"/result?wait=0", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("result returned %d", rec.Code)
	}
	var resp struct {
		Task  *board.Task `json:"task"`
		Retry bool        `json:"retry"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Retry || resp.Task == nil || resp.Task.Status != board.StatusDelivered {
		t.Fatalf("expected delivered task, got %+v", resp)
	}
}

func TestRateLimitedResponse(t *testing.T) {
	f := newFixture(t, deniedPolicies{"keycreate": 3600 * time.Second})

	rec := f.do(t, "POST", "/api/keys", map[string]string{"email": "w@example.com"}, false)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "3600" {
		t.Errorf("expected Retry-After 3600, got %q", rec.Header().Get("Retry-After"))
	}

	var resp struct {
		Code              string `json:"code"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "RATE_LIMITED" {
		t.Errorf("expected RATE_LIMITED, got %q", resp.Code)
	}
	if resp.RetryAfterSeconds != 3600 {
		t.Errorf("expected retry_after_seconds 3600, got %d", resp.RetryAfterSeconds)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	huge := fmt.Sprintf(`{"title":"big","description":%q}`, strings.Repeat("x", api.MaxBodySize+1))
	req := httptest.NewRequest("POST", "/api/tasks", strings.NewReader(huge))
	req.Header.Set("x-api-key", f.key)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	req := httptest.NewRequest("OPTIONS", "/api/tasks", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected permissive CORS origin")
	}
}

func TestAgentCard(t *testing.T) {
	f := newFixture(t, permissiveLimiter{})

	rec := f.do(t, "GET", "/.well-known/agent.json", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var card struct {
		Name      string            `json:"name"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.Name != "agentdo" || len(card.Endpoints) == 0 {
		t.Errorf("unexpected card: %+v", card)
	}
}
