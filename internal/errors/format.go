package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI renders err for a terminal with its details, cause, hint
// and code. Plain errors are shown as internal errors.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	we, ok := As(err)
	if !ok {
		we = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", we.Message)

	for _, k := range we.detailKeys() {
		fmt.Fprintf(&sb, "  %s: %s\n", k, we.Details[k])
	}

	if we.Cause != nil && we.Cause.Error() != we.Message {
		fmt.Fprintf(&sb, "  Cause: %s\n", we.Cause)
	}
	if we.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", we.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", we.Code)
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON object describing err, for commands run with
// --json. A nil error encodes as null.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	we, ok := As(err)
	if !ok {
		we = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       we.Code,
		Message:    we.Message,
		Category:   string(we.Category),
		Severity:   string(we.Severity),
		Details:    we.Details,
		Suggestion: we.Suggestion,
		Retryable:  we.Retryable,
	}
	if we.Cause != nil {
		je.Cause = we.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs returns slog attributes for err. Details are prefixed with
// "detail_" so they cannot shadow the fixed keys.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	we, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", we.Code),
		slog.String("error", we.Message),
		slog.Bool("retryable", we.Retryable),
	}
	if we.Cause != nil {
		attrs = append(attrs, slog.String("cause", we.Cause.Error()))
	}

	for _, k := range we.detailKeys() {
		attrs = append(attrs, slog.String("detail_"+k, we.Details[k]))
	}
	return attrs
}

func (e *WatchError) detailKeys() []string {
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
