package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fileshelf/internal/auth"
)

// HrefSeparator joins href lists in a single parameter.
const HrefSeparator = "|:|"

// UploadField is the multipart field carrying an uploaded file.
const UploadField = "userfile"

// Request is one action invocation. It is built once and not modified.
type Request struct {
	Action  string
	Method  string
	Params  url.Values
	File    *multipart.FileHeader
	FileErr error // transport failure while receiving the upload
	Session auth.Session
}

// ParseRequest extracts an action request from r. Multipart bodies larger
// than maxMemory are spooled to disk by net/http.
func ParseRequest(r *http.Request, maxMemory int64) *Request {
	req := &Request{
		Method:  r.Method,
		Session: auth.SessionFromContext(r.Context()),
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			req.FileErr = err
		}
		if r.MultipartForm != nil {
			if fhs := r.MultipartForm.File[UploadField]; len(fhs) > 0 {
				req.File = fhs[0]
			}
		}
	} else if err := r.ParseForm(); err != nil {
		req.Params = r.URL.Query()
		req.Action = req.Params.Get("action")
		return req
	}
	req.Params = r.Form
	if req.Params == nil {
		req.Params = r.URL.Query()
	}
	req.Action = req.Params.Get("action")
	return req
}

// Param returns a parameter and whether it was present at all.
func (r *Request) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// Get returns a parameter or "".
func (r *Request) Get(name string) string {
	v, _ := r.Param(name)
	return v
}

// Has reports whether a parameter is present.
func (r *Request) Has(name string) bool {
	_, ok := r.Param(name)
	return ok
}

// Bool parses a boolean parameter; absent or unparsable values yield def.
func (r *Request) Bool(name string, def bool) bool {
	v, ok := r.Param(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Int parses a numeric parameter; absent or unparsable values yield def.
func (r *Request) Int(name string, def int) int {
	v, ok := r.Param(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Truthy reports whether a parameter is present with a value that is not
// empty, "0" or "false".
func (r *Request) Truthy(name string) bool {
	v, ok := r.Param(name)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false":
		return false
	}
	return true
}

// List returns every non-empty element of a "|:|"-joined parameter, across
// repeated occurrences.
func (r *Request) List(name string) []string {
	var out []string
	for _, v := range r.Params[name] {
		out = append(out, SplitHrefs(v)...)
	}
	return out
}

// SplitHrefs splits a "|:|"-joined list, dropping empty elements.
func SplitHrefs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, HrefSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func missing(r *Request, name string) check {
	return check{
		failed: func() bool { return !r.Has(name) },
		code:   CodeMissingParam,
		msg:    "missing param: " + name,
	}
}
