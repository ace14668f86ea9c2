package board

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wrannaman/agentdo/errors"
	"github.com/wrannaman/agentdo/logging"
	"github.com/wrannaman/agentdo/longpoll"
	"github.com/wrannaman/agentdo/schema"
)

// Board is the task lifecycle engine. It owns every transition rule and
// expresses each one as a single conditional store write keyed on the
// expected prior status; the store's compare-and-set is the only mutual
// exclusion in the system. No in-memory locks are held across requests.
type Board struct {
	store   Store
	index   Indexer
	log     *logging.Logger
	nowFunc func() time.Time
	idGen   func() string
	poll    longpoll.Config
}

// Indexer receives task snapshots for full-text lookup. The index is
// advisory: failures are logged and never block a transition.
type Indexer interface {
	Upsert(task *Task) error
	Query(text, status string, limit int) ([]string, error)
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(b *Board) {
		b.log = log.WithComponent("board")
	}
}

// WithNowFunc sets the clock. For testing.
func WithNowFunc(now func() time.Time) Option {
	return func(b *Board) {
		b.nowFunc = now
	}
}

// WithIDGenerator sets a custom task id generator.
func WithIDGenerator(gen func() string) Option {
	return func(b *Board) {
		b.idGen = gen
	}
}

// WithPollConfig sets the long-poll cadence and caps.
func WithPollConfig(cfg longpoll.Config) Option {
	return func(b *Board) {
		b.poll = cfg
	}
}

// WithIndex attaches a full-text index. Every transition re-indexes the
// task so status filtering stays accurate.
func WithIndex(index Indexer) Option {
	return func(b *Board) {
		b.index = index
	}
}

// New creates a board over the given store.
func New(store Store, opts ...Option) *Board {
	b := &Board{
		store:   store,
		log:     logging.New().WithComponent("board"),
		nowFunc: time.Now,
		idGen:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateRequest carries everything a poster supplies for a new task.
type CreateRequest struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Input          json.RawMessage `json:"input"`
	Tags           []string        `json:"tags"`
	RequiresHuman  bool            `json:"requires_human"`
	PostedBy       string          `json:"posted_by"`
	BudgetCents    int             `json:"budget_cents"`
	CallbackURL    string          `json:"callback_url"`
	OutputSchema   json.RawMessage `json:"output_schema"`
	TimeoutMinutes int             `json:"timeout_minutes"`
	MaxAttempts    int             `json:"max_attempts"`
}

// DeliverRequest carries a worker's result for a claimed task.
type DeliverRequest struct {
	Result    json.RawMessage `json:"result"`
	ResultURL string          `json:"result_url"`
}

// Create posts a new task in status open with zero attempts.
func (b *Board) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	now := b.nowFunc()
	task := &Task{
		ID:             b.idGen(),
		Title:          req.Title,
		Description:    req.Description,
		Input:          req.Input,
		Tags:           req.Tags,
		RequiresHuman:  req.RequiresHuman,
		PostedBy:       req.PostedBy,
		BudgetCents:    req.BudgetCents,
		CallbackURL:    req.CallbackURL,
		OutputSchema:   req.OutputSchema,
		TimeoutMinutes: req.TimeoutMinutes,
		Status:         StatusOpen,
		Attempts:       0,
		MaxAttempts:    req.MaxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}

	if err := b.store.Insert(ctx, task); err != nil {
		return nil, errors.Wrap(err, "insert task")
	}

	b.log.Transition(task.ID, "", string(StatusOpen), task.PostedBy)
	b.reindex(task)
	return task, nil
}

// Get retrieves a task, applying lazy expiry first so no caller ever
// observes a claimed task whose deadline has passed.
func (b *Board) Get(ctx context.Context, id string) (*Task, error) {
	task, err := b.store.Get(ctx, id)
	if err == ErrNotFound {
		return nil, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "get task")
	}
	return b.maybeExpireWrapped(ctx, task)
}

// List returns a page of tasks plus the total match count, newest first.
func (b *Board) List(ctx context.Context, filter ListFilter) ([]*Task, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	tasks, total, err := b.store.List(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list tasks")
	}
	return tasks, total, nil
}

// Claim takes a time-boxed exclusive assignment of an open task.
// Concurrent claimants race on the conditional write; exactly one wins and
// the rest get a Conflict carrying the status they lost to. A claim that
// would exceed the attempt budget instead forces the task to failed and
// returns Gone, which tells the worker the task is permanently unworkable
// rather than merely contended.
func (b *Board) Claim(ctx context.Context, id, agentID string) (*Task, error) {
	task, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.Status != StatusOpen {
		return nil, errors.Conflict(
			fmt.Sprintf("task is %s, not open", task.Status), string(task.Status),
			errors.WithTaskID(id))
	}

	if task.Attempts >= task.MaxAttempts {
		// Attempt budget already spent: force terminal failure. Losing
		// this write just means someone else resolved the task first.
		if _, err := b.store.UpdateWhere(ctx, id, StatusOpen, Patch{Status: StatusFailed}); err == nil {
			b.log.Transition(id, string(StatusOpen), string(StatusFailed), agentID)
		}
		return nil, errors.Gone("max attempts reached", errors.WithTaskID(id))
	}

	now := b.nowFunc()
	expires := now.Add(time.Duration(task.TimeoutMinutes) * time.Minute)
	attempts := task.Attempts + 1

	updated, err := b.store.UpdateWhere(ctx, id, StatusOpen, Patch{
		Status:    StatusClaimed,
		Attempts:  &attempts,
		ClaimedBy: &agentID,
		ClaimedAt: &now,
		ExpiresAt: &expires,
	})
	if err == ErrPreconditionFailed {
		return nil, b.conflictWithActual(ctx, id, StatusOpen)
	}
	if err == ErrNotFound {
		return nil, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim task")
	}

	b.log.Transition(id, string(StatusOpen), string(StatusClaimed), agentID)
	b.reindex(updated)
	return updated, nil
}

// Deliver submits a result for a claimed task. If the task declares an
// output schema, the result must pass the gate or the transition is
// refused with the full error list and the expected schema. The task
// stays claimed so the worker can fix and redeliver. A successful
// delivery clears expires_at: a delivered claim can no longer lapse.
func (b *Board) Deliver(ctx context.Context, id string, req DeliverRequest) (*Task, error) {
	if err := validateDelivery(&req); err != nil {
		return nil, err
	}

	task, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.Status != StatusClaimed {
		return nil, errors.Conflict(
			fmt.Sprintf("task is %s, not claimed", task.Status), string(task.Status),
			errors.WithTaskID(id))
	}

	if len(task.OutputSchema) > 0 && len(req.Result) > 0 {
		if verrs := schema.Validate(task.OutputSchema, req.Result); verrs != nil {
			return nil, errors.ValidationFailed(
				"result does not match the required output_schema", verrs,
				errors.WithExpectedSchema(task.OutputSchema),
				errors.WithTaskID(id))
		}
	}

	now := b.nowFunc()
	patch := Patch{
		Status:      StatusDelivered,
		DeliveredAt: &now,
		ClearExpiry: true,
	}
	if len(req.Result) > 0 {
		patch.Result = req.Result
	}
	if req.ResultURL != "" {
		patch.ResultURL = &req.ResultURL
	}

	updated, err := b.store.UpdateWhere(ctx, id, StatusClaimed, patch)
	if err == ErrPreconditionFailed {
		return nil, b.conflictWithActual(ctx, id, StatusClaimed)
	}
	if err == ErrNotFound {
		return nil, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "deliver task")
	}

	b.log.Transition(id, string(StatusClaimed), string(StatusDelivered), task.ClaimedBy)
	b.reindex(updated)
	return updated, nil
}

// Complete accepts a delivery. No further schema check: the gate ran at
// delivery time and the poster has seen the result.
func (b *Board) Complete(ctx context.Context, id string) (*Task, error) {
	task, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.Status != StatusDelivered {
		return nil, errors.Conflict(
			fmt.Sprintf("task is %s, not delivered", task.Status), string(task.Status),
			errors.WithTaskID(id))
	}

	updated, err := b.store.UpdateWhere(ctx, id, StatusDelivered, Patch{Status: StatusCompleted})
	if err == ErrPreconditionFailed {
		return nil, b.conflictWithActual(ctx, id, StatusDelivered)
	}
	if err == ErrNotFound {
		return nil, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "complete task")
	}

	b.log.Transition(id, string(StatusDelivered), string(StatusCompleted), task.PostedBy)
	b.reindex(updated)
	return updated, nil
}

// Reject refuses a delivery. The task reopens for another worker while
// attempts remain, or fails permanently once the budget is spent. The
// count was already incremented at claim time, so rejecting grants no
// extra attempt. Claim and delivery fields are cleared either way. The
// reason is not persisted; it travels in the response and the log only.
func (b *Board) Reject(ctx context.Context, id, reason string) (*Task, error) {
	task, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.Status != StatusDelivered {
		return nil, errors.Conflict(
			fmt.Sprintf("task is %s, can only reject delivered tasks", task.Status),
			string(task.Status),
			errors.WithTaskID(id))
	}

	outcome := StatusOpen
	if task.Attempts >= task.MaxAttempts {
		outcome = StatusFailed
	}

	updated, err := b.store.UpdateWhere(ctx, id, StatusDelivered, Patch{
		Status:        outcome,
		ClearClaim:    true,
		ClearDelivery: true,
	})
	if err == ErrPreconditionFailed {
		return nil, b.conflictWithActual(ctx, id, StatusDelivered)
	}
	if err == ErrNotFound {
		return nil, errors.NotFound("task not found", errors.WithTaskID(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, "reject task")
	}

	b.log.Transition(id, string(StatusDelivered), string(outcome), task.PostedBy)
	if reason != "" {
		b.log.Info("delivery rejected", map[string]interface{}{
			"task_id": id,
			"reason":  reason,
		})
	}
	b.reindex(updated)
	return updated, nil
}

// NextOpen is the single-shot probe behind find-work: the oldest open task
// matching the filter, or nil when nothing is eligible.
func (b *Board) NextOpen(ctx context.Context, filter WorkFilter) (*Task, error) {
	task, err := b.store.NextOpen(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find next task")
	}
	return task, nil
}

// WaitForWork long-polls for the next open task matching the filter.
// Expired claims are swept first so lapsed tasks are back in the pool
// before the first probe. Returns retry=true when the deadline passed with
// nothing eligible; the worker should reconnect immediately. A
// non-positive timeout degenerates to a single probe.
func (b *Board) WaitForWork(ctx context.Context, filter WorkFilter, timeout time.Duration) (*Task, bool, error) {
	if _, err := b.SweepExpired(ctx); err != nil {
		// A failed sweep only delays reclamation; lazy expiry covers it.
		b.log.Warn("expiry sweep failed", map[string]interface{}{"error": err.Error()})
	}

	if timeout <= 0 {
		task, err := b.NextOpen(ctx, filter)
		if err != nil {
			return nil, false, err
		}
		return task, task == nil, nil
	}

	cfg := b.poll
	cfg.Timeout = timeout

	return longpoll.Wait(ctx, cfg, func(ctx context.Context) (*Task, bool, error) {
		task, err := b.NextOpen(ctx, filter)
		if err != nil {
			return nil, false, err
		}
		return task, task != nil, nil
	})
}

// WaitForResult long-polls a task until its status is terminal for the
// poster: delivered, completed, failed, expired or disputed. Lazy expiry
// runs on every probe, so a claim lapsing mid-wait surfaces as open (or
// failed) within one poll interval. Returns retry=true on deadline. A
// non-positive timeout degenerates to a single probe.
func (b *Board) WaitForResult(ctx context.Context, id string, timeout time.Duration) (*Task, bool, error) {
	if timeout <= 0 {
		task, err := b.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return task, !task.Status.TerminalForPoster(), nil
	}

	cfg := b.poll
	cfg.Timeout = timeout

	task, retry, err := longpoll.Wait(ctx, cfg, func(ctx context.Context) (*Task, bool, error) {
		task, err := b.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return task, task.Status.TerminalForPoster(), nil
	})
	if err != nil {
		return nil, false, err
	}
	if retry {
		// Report the latest observed state with the retry signal so the
		// poster sees progress (open → claimed) even without a result.
		latest, gerr := b.Get(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return latest, true, nil
	}
	return task, false, nil
}

// conflictWithActual builds the Conflict for a lost conditional write,
// naming the status the task actually has now.
func (b *Board) conflictWithActual(ctx context.Context, id string, expected Status) error {
	actual := "unknown"
	if fresh, err := b.store.Get(ctx, id); err == nil {
		actual = string(fresh.Status)
	}
	b.log.TransitionLost(id, string(expected), actual)
	return errors.Conflict(
		fmt.Sprintf("task is %s, not %s", actual, expected), actual,
		errors.WithTaskID(id))
}

// maybeExpireWrapped runs lazy expiry and wraps store errors.
func (b *Board) maybeExpireWrapped(ctx context.Context, task *Task) (*Task, error) {
	fresh, err := b.maybeExpire(ctx, task)
	if err != nil {
		return nil, errors.Wrap(err, "expire check")
	}
	return fresh, nil
}

// reindex pushes a task snapshot into the search index, when one is
// attached. Index failures never block a transition.
func (b *Board) reindex(task *Task) {
	if b.index == nil || task == nil {
		return
	}
	if err := b.index.Upsert(task); err != nil {
		b.log.Warn("index update failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		})
	}
}

// Search returns tasks matching a free-text query, best match first. Ids
// come from the index; each task is re-read from the store, so results
// are never staler than the store itself.
func (b *Board) Search(ctx context.Context, text, status string, limit int) ([]*Task, error) {
	if b.index == nil {
		return nil, errors.BadInput("search is not enabled")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	ids, err := b.index.Query(text, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search tasks")
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := b.Get(ctx, id)
		if errors.Is(err, errors.ErrCodeNotFound) {
			continue // index entry outlived the row
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
