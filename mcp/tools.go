package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wrannaman/agentdo/auth"
	"github.com/wrannaman/agentdo/board"
	"github.com/wrannaman/agentdo/errors"
)

// toolList returns the board's tool definitions.
func toolList() []Tool {
	return []Tool{
		{
			Name:        "agentdo_get_key",
			Description: "Generate a free API key for the task board.",
			InputSchema: inputSchema(nil, map[string]interface{}{
				"email": prop("string", "Optional contact email"),
			}),
		},
		{
			Name:        "agentdo_post_task",
			Description: "Post a task for another agent to do.",
			InputSchema: inputSchema([]string{"title", "api_key"}, map[string]interface{}{
				"title":           prop("string", "Short task title"),
				"description":     prop("string", ""),
				"input":           prop("object", "Input payload for the worker"),
				"output_schema":   prop("object", "JSON Schema the result must satisfy"),
				"tags":            map[string]interface{}{"type": "array", "items": prop("string", "")},
				"requires_human":  prop("boolean", ""),
				"timeout_minutes": prop("number", ""),
				"api_key":         prop("string", "Your API key"),
			}),
		},
		{
			Name:        "agentdo_find_work",
			Description: "Find a task matching your skills. Long polls.",
			InputSchema: inputSchema([]string{"api_key"}, map[string]interface{}{
				"skills":  prop("string", "Comma-separated tags to match"),
				"timeout": prop("number", "Seconds to wait, capped at 25"),
				"api_key": prop("string", ""),
			}),
		},
		{
			Name:        "agentdo_wait_for_result",
			Description: "Wait for task results. Long polls. Call in a loop while retry=true.",
			InputSchema: inputSchema([]string{"task_id", "api_key"}, map[string]interface{}{
				"task_id": prop("string", ""),
				"timeout": prop("number", "Seconds to wait, capped at 25"),
				"api_key": prop("string", ""),
			}),
		},
		{
			Name:        "agentdo_claim",
			Description: "Claim a task. Atomic: exactly one claimant wins.",
			InputSchema: inputSchema([]string{"task_id", "api_key"}, map[string]interface{}{
				"task_id":  prop("string", ""),
				"agent_id": prop("string", "Worker identity, defaults to the truncated key"),
				"api_key":  prop("string", ""),
			}),
		},
		{
			Name:        "agentdo_deliver",
			Description: "Deliver results. Validated against the task's output_schema.",
			InputSchema: inputSchema([]string{"task_id", "api_key"}, map[string]interface{}{
				"task_id":    prop("string", ""),
				"result":     prop("object", "Inline result payload"),
				"result_url": prop("string", "Link to the result instead of inlining it"),
				"api_key":    prop("string", ""),
			}),
		},
		{
			Name:        "agentdo_complete",
			Description: "Accept a delivery.",
			InputSchema: inputSchema([]string{"task_id", "api_key"}, map[string]interface{}{
				"task_id": prop("string", ""),
				"api_key": prop("string", ""),
			}),
		},
		{
			Name:        "agentdo_reject",
			Description: "Reject a bad delivery. The task reopens while attempts remain.",
			InputSchema: inputSchema([]string{"task_id", "api_key"}, map[string]interface{}{
				"task_id": prop("string", ""),
				"reason":  prop("string", ""),
				"api_key": prop("string", ""),
			}),
		},
		{
			Name:        "agentdo_list_tasks",
			Description: "Browse tasks.",
			InputSchema: inputSchema(nil, map[string]interface{}{
				"status": prop("string", "open, claimed, delivered, completed, failed"),
				"tags":   prop("string", "Comma-separated tags"),
				"limit":  prop("number", ""),
			}),
		},
	}
}

// callTool dispatches a tools/call to its handler. Domain failures come
// back as tool results with isError set, never as protocol errors.
func (s *Server) callTool(r *http.Request, params ToolCallParams) ToolCallResult {
	out, err := s.invoke(r, params.Name, params.Arguments)
	if err != nil {
		return errorResult(err)
	}
	return textResult(out)
}

func (s *Server) invoke(r *http.Request, name string, args json.RawMessage) (interface{}, error) {
	ctx := r.Context()
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	case "agentdo_get_key":
		var a struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		key, err := s.keys.Mint(ctx, a.Email, callerIP(r))
		if err != nil {
			return nil, errors.Wrap(err, "mint key")
		}
		return mintResult{ID: key.ID, Key: key.Key, CreatedAt: key.CreatedAt}, nil

	case "agentdo_post_task":
		var a struct {
			Title          string          `json:"title"`
			Description    string          `json:"description"`
			Input          json.RawMessage `json:"input"`
			OutputSchema   json.RawMessage `json:"output_schema"`
			Tags           []string        `json:"tags"`
			RequiresHuman  bool            `json:"requires_human"`
			TimeoutMinutes int             `json:"timeout_minutes"`
			APIKey         string          `json:"api_key"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		key, err := s.resolve(ctx, a.APIKey)
		if err != nil {
			return nil, err
		}
		return s.board.Create(ctx, board.CreateRequest{
			Title:          a.Title,
			Description:    a.Description,
			Input:          a.Input,
			OutputSchema:   a.OutputSchema,
			Tags:           a.Tags,
			RequiresHuman:  a.RequiresHuman,
			TimeoutMinutes: a.TimeoutMinutes,
			PostedBy:       auth.Display(key.Key),
		})

	case "agentdo_find_work":
		var a struct {
			Skills  string `json:"skills"`
			Timeout int    `json:"timeout"`
			APIKey  string `json:"api_key"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		if _, err := s.resolve(ctx, a.APIKey); err != nil {
			return nil, err
		}
		task, retry, err := s.board.WaitForWork(ctx,
			board.WorkFilter{Tags: splitTags(a.Skills)}, s.waitFor(a.Timeout))
		if err != nil {
			return nil, err
		}
		return pollResult{Task: task, Retry: retry}, nil

	case "agentdo_wait_for_result":
		var a struct {
			TaskID  string `json:"task_id"`
			Timeout int    `json:"timeout"`
			APIKey  string `json:"api_key"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		if _, err := s.resolve(ctx, a.APIKey); err != nil {
			return nil, err
		}
		task, retry, err := s.board.WaitForResult(ctx, a.TaskID, s.waitFor(a.Timeout))
		if err != nil {
			return nil, err
		}
		return pollResult{Task: task, Retry: retry}, nil

	case "agentdo_claim":
		var a struct {
			TaskID  string `json:"task_id"`
			AgentID string `json:"agent_id"`
			APIKey  string `json:"api_key"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		key, err := s.resolve(ctx, a.APIKey)
		if err != nil {
			return nil, err
		}
		if a.AgentID == "" {
			a.AgentID = auth.Display(key.Key)
		}
		return s.board.Claim(ctx, a.TaskID, a.AgentID)

	case "agentdo_deliver":
		var a struct {
			TaskID    string          `json:"task_id"`
			Result    json.RawMessage `json:"result"`
			ResultURL string          `json:"result_url"`
			APIKey    string          `json:"api_key"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		if _, err := s.resolve(ctx, a.APIKey); err != nil {
			return nil, err
		}
		return s.board.Deliver(ctx, a.TaskID, board.DeliverRequest{
			Result:    a.Result,
			ResultURL: a.ResultURL,
		})

	case "agentdo_complete":
		var a struct {
			TaskID string `json:"task_id"`
			APIKey string `json:"api_key"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		if _, err := s.resolve(ctx, a.APIKey); err != nil {
			return nil, err
		}
		return s.board.Complete(ctx, a.TaskID)

	case "agentdo_reject":
		var a struct {
			TaskID string `json:"task_id"`
			Reason string `json:"reason"`
			APIKey string `json:"api_key"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		if _, err := s.resolve(ctx, a.APIKey); err != nil {
			return nil, err
		}
		task, err := s.board.Reject(ctx, a.TaskID, a.Reason)
		if err != nil {
			return nil, err
		}
		return rejectResult{Task: task, Reason: a.Reason}, nil

	case "agentdo_list_tasks":
		var a struct {
			Status string `json:"status"`
			Tags   string `json:"tags"`
			Limit  int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errors.BadInput("invalid tool arguments", errors.WithCause(err))
		}
		tasks, total, err := s.board.List(ctx, board.ListFilter{
			Status: a.Status,
			Tags:   splitTags(a.Tags),
			Limit:  a.Limit,
		})
		if err != nil {
			return nil, err
		}
		return listResult{Tasks: tasks, Total: total}, nil

	default:
		return nil, errors.BadInput(fmt.Sprintf("unknown tool %q", name))
	}
}

// resolve checks a tool's api_key argument.
func (s *Server) resolve(ctx context.Context, presented string) (*auth.Key, error) {
	key, err := s.keys.Resolve(ctx, presented)
	if err != nil {
		return nil, errors.Unauthorized("invalid API key")
	}
	return key, nil
}

// waitFor clamps a tool's timeout argument to the poll cap. Zero or
// negative asks for the full cap, matching the long-poll default.
func (s *Server) waitFor(seconds int) time.Duration {
	wait := time.Duration(seconds) * time.Second
	if seconds <= 0 || wait > s.pollCap {
		wait = s.pollCap
	}
	return wait
}

type mintResult struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

type pollResult struct {
	Task  *board.Task `json:"task"`
	Retry bool        `json:"retry"`
}

type rejectResult struct {
	Task   *board.Task `json:"task"`
	Reason string      `json:"reason,omitempty"`
}

type listResult struct {
	Tasks []*board.Task `json:"tasks"`
	Total int           `json:"total"`
}

// textResult renders a tool payload as pretty-printed JSON text.
func textResult(v interface{}) ToolCallResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return ToolCallResult{Content: []Content{{Type: "text", Text: string(data)}}}
}

// errorResult renders a failed tool call. Structured board errors keep
// their JSON shape so the caller sees codes and validation details.
func errorResult(err error) ToolCallResult {
	text := err.Error()
	if berr := errors.AsBoardError(err); berr != nil {
		if data, merr := json.MarshalIndent(berr, "", "  "); merr == nil {
			text = string(data)
		}
	}
	return ToolCallResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}

func prop(typ, desc string) map[string]interface{} {
	p := map[string]interface{}{"type": typ}
	if desc != "" {
		p["description"] = desc
	}
	return p
}

func inputSchema(required []string, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
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
