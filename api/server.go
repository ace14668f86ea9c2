// Package api exposes the task board over HTTP.
package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wrannaman/agentdo/auth"
	"github.com/wrannaman/agentdo/board"
	"github.com/wrannaman/agentdo/errors"
	"github.com/wrannaman/agentdo/logging"
	"github.com/wrannaman/agentdo/mcp"
	"github.com/wrannaman/agentdo/ratelimit"
)

// MaxBodySize caps every request body. Larger bodies are refused with 413
// before any handler parses them.
const MaxBodySize = 100_000

// Server routes HTTP requests to the board.
type Server struct {
	board    *board.Board
	keys     *auth.Keyring
	limiter  ratelimit.Limiter
	log      *logging.Logger
	policies ratelimit.PolicySet

	// pollDefault applies when a poll request carries no wait parameter;
	// pollMax caps whatever the client asks for.
	pollDefault time.Duration
	pollMax     time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) ServerOption {
	return func(s *Server) {
		s.log = log.WithComponent("api")
	}
}

// WithPollBounds sets the default and maximum long-poll wait.
func WithPollBounds(def, max time.Duration) ServerOption {
	return func(s *Server) {
		s.pollDefault = def
		s.pollMax = max
	}
}

// WithPolicies replaces the stock rate-limit policies.
func WithPolicies(policies ratelimit.PolicySet) ServerOption {
	return func(s *Server) {
		s.policies = policies
	}
}

// NewServer creates a server over the given board, keyring and limiter.
func NewServer(b *board.Board, keys *auth.Keyring, limiter ratelimit.Limiter, opts ...ServerOption) *Server {
	s := &Server{
		board:       b,
		keys:        keys,
		limiter:     limiter,
		log:         logging.New().WithComponent("api"),
		policies:    ratelimit.DefaultPolicies(),
		pollDefault: 8 * time.Second,
		pollMax:     25 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/keys", s.ratedByIP(s.policies.KeyMint, s.handleMintKey))
	mux.HandleFunc("POST /api/tasks", s.authed(s.policies.TaskCreate, s.handleCreate))
	mux.HandleFunc("GET /api/tasks", s.ratedByIP(s.policies.Read, s.handleList))
	mux.HandleFunc("GET /api/tasks/next", s.authedByIP(s.policies.Poll, s.handleNext))
	mux.HandleFunc("GET /api/tasks/{id}", s.ratedByIP(s.policies.Read, s.handleGet))
	mux.HandleFunc("GET /api/tasks/{id}/result", s.authedByIP(s.policies.Poll, s.handleResult))
	mux.HandleFunc("POST /api/tasks/{id}/claim", s.authed(s.policies.TaskAction, s.handleClaim))
	mux.HandleFunc("POST /api/tasks/{id}/deliver", s.authed(s.policies.TaskAction, s.handleDeliver))
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.authed(s.policies.TaskAction, s.handleComplete))
	mux.HandleFunc("POST /api/tasks/{id}/reject", s.authed(s.policies.TaskAction, s.handleReject))
	mux.HandleFunc("GET /.well-known/agent.json", s.handleAgentCard)
	mux.Handle("POST /api/mcp", mcp.NewServer(s.board, s.keys,
		mcp.WithLogger(s.log), mcp.WithPollCap(s.pollMax)))

	return s.wrap(mux)
}

// mintKeyRequest is the body for key creation.
type mintKeyRequest struct {
	Email string `json:"email"`
}

// mintKeyResponse returns the whole key exactly once.
type mintKeyResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleMintKey(w http.ResponseWriter, r *http.Request) {
	var req mintKeyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	key, err := s.keys.Mint(r.Context(), req.Email, clientIP(r))
	if err != nil {
		s.writeError(w, errors.Wrap(err, "mint key"))
		return
	}

	s.writeJSON(w, http.StatusCreated, mintKeyResponse{
		ID:        key.ID,
		Key:       key.Key,
		CreatedAt: key.CreatedAt,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req board.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if req.PostedBy == "" {
		req.PostedBy = auth.Display(apiKeyFrom(r))
	}

	task, err := s.board.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, task)
}

// listResponse pages tasks with the total match count.
type listResponse struct {
	Tasks []*board.Task `json:"tasks"`
	Total int           `json:"total"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if text := q.Get("q"); text != "" {
		limit, _ := strconv.Atoi(q.Get("limit"))
		tasks, err := s.board.Search(r.Context(), text, q.Get("status"), limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, listResponse{Tasks: tasks, Total: len(tasks)})
		return
	}

	filter := board.ListFilter{
		Status:        q.Get("status"),
		Tags:          splitTags(q.Get("tags")),
		RequiresHuman: parseOptionalBool(q.Get("requires_human")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	tasks, total, err := s.board.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*board.Task{}
	}
	s.writeJSON(w, http.StatusOK, listResponse{Tasks: tasks, Total: total})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.board.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// pollResponse is the long-poll envelope: either a task, or retry=true
// telling the client to reconnect immediately.
type pollResponse struct {
	Task  *board.Task `json:"task,omitempty"`
	Retry bool        `json:"retry,omitempty"`
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// skills is the worker-facing alias for tags.
	tags := q.Get("tags")
	if tags == "" {
		tags = q.Get("skills")
	}
	filter := board.WorkFilter{
		Tags:          splitTags(tags),
		RequiresHuman: parseOptionalBool(q.Get("requires_human")),
	}

	task, retry, err := s.board.WaitForWork(r.Context(), filter, s.pollWait(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pollResponse{Task: task, Retry: retry})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	task, retry, err := s.board.WaitForResult(r.Context(), r.PathValue("id"), s.pollWait(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pollResponse{Task: task, Retry: retry})
}

// claimRequest names the claiming worker. Free text; defaults to a
// truncated form of the caller's key.
type claimRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.AgentID == "" {
		req.AgentID = auth.Display(apiKeyFrom(r))
	}

	task, err := s.board.Claim(r.Context(), r.PathValue("id"), req.AgentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req board.DeliverRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	task, err := s.board.Deliver(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	task, err := s.board.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// rejectRequest carries the poster's optional reason. It is echoed back,
// never stored.
type rejectRequest struct {
	Reason string `json:"reason"`
}

// rejectResponse returns the reopened (or failed) task with the reason.
type rejectResponse struct {
	Task   *board.Task `json:"task"`
	Reason string      `json:"reason,omitempty"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	task, err := s.board.Reject(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rejectResponse{Task: task, Reason: req.Reason})
}

// handleAgentCard serves the machine-readable service description.
func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "agentdo",
		"description": "task board for autonomous agents: post work, claim work, deliver results",
		"version":     "1.0",
		"endpoints": map[string]string{
			"mint_key":     "POST /api/keys",
			"create_task":  "POST /api/tasks",
			"list_tasks":   "GET /api/tasks",
			"next_task":    "GET /api/tasks/next",
			"get_task":     "GET /api/tasks/{id}",
			"wait_result":  "GET /api/tasks/{id}/result",
			"claim_task":   "POST /api/tasks/{id}/claim",
			"deliver_task": "POST /api/tasks/{id}/deliver",
			"complete":     "POST /api/tasks/{id}/complete",
			"reject":       "POST /api/tasks/{id}/reject",
		},
		"auth": map[string]string{
			"scheme": "x-api-key header",
			"mint":   "POST /api/keys with {\"email\": \"you@example.com\"}",
		},
	})
}

// pollWait resolves the wait parameter: default when absent, capped at
// the configured maximum, zeroed when negative or unparseable.
func (s *Server) pollWait(r *http.Request) time.Duration {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		raw = r.URL.Query().Get("timeout")
	}
	if raw == "" {
		return s.pollDefault
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return s.pollDefault
	}
	wait := time.Duration(secs) * time.Second
	if wait > s.pollMax {
		wait = s.pollMax
	}
	return wait
}

// decodeBody parses a JSON request body. An empty body decodes to the
// zero value, since several actions need no parameters.
func decodeBody(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || err == io.EOF {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.PayloadTooLarge("request body exceeds 100KB")
	}
	return errors.BadInput("invalid JSON body", errors.WithCause(err))
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseOptionalBool(raw string) *bool {
	switch raw {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	default:
		return nil
	}
}
