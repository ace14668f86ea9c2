package board

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wrannaman/agentdo/errors"
	"github.com/wrannaman/agentdo/schema"
)

// Field size ceilings. Enforced before any state mutation.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxTags              = 10
	MaxTagLength         = 50
	MaxJSONSize          = 50_000  // input and output_schema, serialized
	MaxResultSize        = 100_000 // delivered result, serialized

	DefaultTimeoutMinutes = 60
	MinTimeoutMinutes     = 1
	MaxTimeoutMinutes     = 1440

	DefaultMaxAttempts = 3
)

// validateCreate checks a creation request and normalizes its defaults.
// Everything here is a BadInput or ValidationFailed; nothing touches the
// store until the request passes whole.
func validateCreate(req *CreateRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.BadInput("title is required")
	}
	if len(req.Title) > MaxTitleLength {
		return errors.BadInput(fmt.Sprintf("title must be under %d characters", MaxTitleLength))
	}

	if len(req.Description) > MaxDescriptionLength {
		return errors.BadInput(fmt.Sprintf("description must be under %d characters", MaxDescriptionLength))
	}

	if len(req.Tags) > MaxTags {
		return errors.BadInput(fmt.Sprintf("max %d tags", MaxTags))
	}
	for _, tag := range req.Tags {
		if tag == "" || len(tag) > MaxTagLength {
			return errors.BadInput(fmt.Sprintf("each tag must be a non-empty string under %d chars", MaxTagLength))
		}
	}

	if len(req.Input) > MaxJSONSize {
		return errors.BadInput(fmt.Sprintf("input must be under %dKB", MaxJSONSize/1000))
	}

	if len(req.OutputSchema) > 0 {
		if len(req.OutputSchema) > MaxJSONSize {
			return errors.BadInput(fmt.Sprintf("output_schema must be under %dKB", MaxJSONSize/1000))
		}
		if !schema.IsWellFormed(req.OutputSchema) {
			return errors.ValidationFailed(
				"output_schema must be a JSON Schema object declaring type, properties, items, or a combinator",
				nil)
		}
	}

	if req.CallbackURL != "" {
		if err := validateCallbackURL(req.CallbackURL); err != nil {
			return err
		}
	}

	if req.TimeoutMinutes == 0 {
		req.TimeoutMinutes = DefaultTimeoutMinutes
	}
	if req.TimeoutMinutes < MinTimeoutMinutes || req.TimeoutMinutes > MaxTimeoutMinutes {
		return errors.BadInput(fmt.Sprintf("timeout_minutes must be between %d and %d",
			MinTimeoutMinutes, MaxTimeoutMinutes))
	}

	if req.MaxAttempts == 0 {
		req.MaxAttempts = DefaultMaxAttempts
	}
	if req.MaxAttempts < 1 {
		return errors.BadInput("max_attempts must be at least 1")
	}

	if req.BudgetCents < 0 {
		return errors.BadInput("budget_cents cannot be negative")
	}

	return nil
}

// validateCallbackURL requires HTTPS and refuses private, loopback and
// internal hosts. The board never fetches the URL itself, but it refuses
// to hold one that would aim a poster's own client at internal addresses.
func validateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errors.BadInput("callback_url must be a valid URL")
	}
	if u.Scheme != "https" {
		return errors.BadInput("callback_url must use HTTPS")
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "localhost",
		host == "0.0.0.0",
		strings.HasPrefix(host, "127."),
		strings.HasPrefix(host, "10."),
		strings.HasPrefix(host, "192.168."),
		strings.HasPrefix(host, "169.254."),
		strings.HasSuffix(host, ".internal"):
		return errors.BadInput("callback_url cannot point to internal addresses")
	}
	return nil
}

// validateDelivery checks a delivery request before the state machine sees
// it: a payload must be present and within the ceiling, and any result URL
// must be HTTP(S).
func validateDelivery(req *DeliverRequest) error {
	if len(req.Result) == 0 && req.ResultURL == "" {
		return errors.BadInput("must provide result (object) or result_url (string) or both")
	}

	if len(req.Result) > MaxResultSize {
		return errors.BadInput(fmt.Sprintf("result must be under %dKB", MaxResultSize/1000))
	}

	if req.ResultURL != "" {
		u, err := url.Parse(req.ResultURL)
		if err != nil || u.Host == "" {
			return errors.BadInput("result_url must be a valid URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.BadInput("result_url must be HTTP or HTTPS")
		}
	}

	return nil
}
