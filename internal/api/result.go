package api

import (
	"context"
	"encoding/json"
	"io"

	"fileshelf/internal/auth"
)

// Result codes. Codes below 100 are scoped to the action that returns them.
const (
	CodeOK       = 0
	CodeDisabled = 1

	CodeDownloadFailed = 2

	CodeDeletePartial = 2

	CodeUploadMethod     = 2
	CodeUploadNoFile     = 3
	CodeUploadTransport  = 4
	CodeUploadFolder     = 5
	CodeUploadNotManaged = 6
	CodeUploadExists     = 7
	CodeUploadMove       = 8

	CodeRenameFailed     = 2
	CodeRenameNotManaged = 3

	CodeUnsupported   = 100
	CodeMissingParam  = 101
	CodeIllegalParam  = 102
	CodeAdminRequired = 103
)

// Result is the outcome of one action. Exactly one of the JSON form
// (Code/Msg/Data) or Stream is meaningful.
type Result struct {
	Code int
	Msg  string
	Data map[string]any

	// Session, when set, replaces the client's session.
	Session *auth.Session

	// Stream, when set, is written as the raw response body instead of JSON.
	Stream *Stream
}

// Stream is a raw attachment response. Write is called once, after headers
// are sent; an error at that point can only truncate the body.
type Stream struct {
	Filename    string
	ContentType string
	Write       func(ctx context.Context, w io.Writer) error
}

func (r *Result) OK() bool { return r.Code == CodeOK }

func (r *Result) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Data)+2)
	for k, v := range r.Data {
		m[k] = v
	}
	m["code"] = r.Code
	if r.Msg != "" {
		m["msg"] = r.Msg
	}
	return json.Marshal(m)
}

func ok(data map[string]any) *Result {
	return &Result{Code: CodeOK, Data: data}
}

func fail(code int, msg string) *Result {
	return &Result{Code: code, Msg: msg}
}

// check is one step of a fail-fast precondition chain. failed is evaluated
// lazily, so later steps may depend on values computed by earlier ones.
type check struct {
	failed func() bool
	code   int
	msg    string
}

// when is a check on a value that is already known.
func when(cond bool, code int, msg string) check {
	return check{failed: func() bool { return cond }, code: code, msg: msg}
}

// firstFailure runs checks in order and returns the first failure, or nil.
// No step after the first failing one is evaluated.
func firstFailure(checks ...check) *Result {
	for _, c := range checks {
		if c.failed() {
			return fail(c.code, c.msg)
		}
	}
	return nil
}
