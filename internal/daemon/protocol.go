package daemon

import (
	"encoding/json"
	"fmt"
	"time"

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/state"
	"github.com/Aman-CERP/watchsync/internal/watchroot"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing      = "ping"
	MethodStatus    = "status"
	MethodWatch     = "watch"
	MethodWatchDel  = "watch-del"
	MethodWatchList = "watch-list"
	MethodSync      = "sync"
	MethodCookies   = "cookies"
	MethodRecrawl   = "recrawl"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeRootNotWatched = -32001
	ErrCodeSyncTimeout    = -32002
	ErrCodeSyncAborted    = -32003
	ErrCodeWatchFailed    = -32004
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the structured error code so clients can rebuild the
// daemon's error.
type ErrorData struct {
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// errorResponse maps err onto a JSON-RPC error, keeping its code.
func errorResponse(id string, err error) Response {
	resp := NewErrorResponse(id, rpcCode(err), err.Error())
	if we, ok := werrors.As(err); ok {
		resp.Error.Message = we.Message
		resp.Error.Data = &ErrorData{Code: we.Code, Suggestion: we.Suggestion}
	}
	return resp
}

func rpcCode(err error) int {
	switch werrors.GetCode(err) {
	case werrors.ErrCodeRootNotWatched:
		return ErrCodeRootNotWatched
	case werrors.ErrCodeSyncTimeout:
		return ErrCodeSyncTimeout
	case werrors.ErrCodeSyncAborted, werrors.ErrCodeSyncClosed:
		return ErrCodeSyncAborted
	case werrors.ErrCodeWatchFailed, werrors.ErrCodeCookieCreate, werrors.ErrCodeNoCookieDirs:
		return ErrCodeWatchFailed
	case werrors.ErrCodeInvalidInput, werrors.ErrCodeInvalidPath:
		return ErrCodeInvalidParams
	default:
		return ErrCodeInternalError
	}
}

// Err converts a response error back into a Go error. Errors carrying a
// structured code come back as *errors.WatchError.
func (e *Error) Err() error {
	if e.Data != nil && e.Data.Code != "" {
		return werrors.New(e.Data.Code, e.Message, nil).WithSuggestion(e.Data.Suggestion)
	}
	return fmt.Errorf("%s (code: %d)", e.Message, e.Code)
}

// RootParams names a watched root.
type RootParams struct {
	Root string `json:"root"`
}

// Validate checks that required fields are present.
func (p *RootParams) Validate() error {
	if p.Root == "" {
		return werrors.ValidationError("root is required", nil)
	}
	return nil
}

// SyncParams are the parameters for the sync method.
type SyncParams struct {
	Root string `json:"root"`
	// TimeoutMS bounds the sync. Zero uses the daemon default.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// Validate checks that required fields are present.
func (p *SyncParams) Validate() error {
	if p.Root == "" {
		return werrors.ValidationError("root is required", nil)
	}
	if p.TimeoutMS < 0 {
		return werrors.ValidationError("timeout_ms must be non-negative", nil)
	}
	return nil
}

// Timeout returns the requested timeout, or def when unset.
func (p *SyncParams) Timeout(def time.Duration) time.Duration {
	if p.TimeoutMS <= 0 {
		return def
	}
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version"`
}

// StatusResult contains daemon status information. SyncsToday is only set
// when state is persisted.
type StatusResult struct {
	Running    bool               `json:"running"`
	PID        int                `json:"pid"`
	Uptime     string             `json:"uptime"`
	MaxRoots   int                `json:"max_roots"`
	Roots      []watchroot.Status `json:"roots"`
	SyncsToday *state.SyncSummary `json:"syncs_today,omitempty"`
}

// WatchResult is the response to watch.
type WatchResult struct {
	Root       string   `json:"root"`
	Backend    string   `json:"backend"`
	CookieDirs []string `json:"cookie_dirs"`
}

// WatchListResult is the response to watch-list.
type WatchListResult struct {
	Roots []string `json:"roots"`
}

// SyncResult is the response to sync.
type SyncResult struct {
	Root      string `json:"root"`
	Clock     uint64 `json:"clock"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// CookiesResult lists a root's outstanding cookie files.
type CookiesResult struct {
	Root  string   `json:"root"`
	Files []string `json:"files"`
}

// RecrawlResult is the response to recrawl.
type RecrawlResult struct {
	Root     string `json:"root"`
	Recrawls uint64 `json:"recrawls"`
}

// decodeParams converts the loosely typed params of a request into v.
func decodeParams(params any, v any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return werrors.ValidationError("failed to encode params", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return werrors.ValidationError("failed to decode params", err)
	}
	return nil
}
