package api

import (
	"context"

	"fileshelf/internal/auth"
)

// login sets the session's admin flag to the outcome of the password check.
// Every attempt is evaluated the same way; there is no lockout.
func (d *Dispatcher) login(ctx context.Context, req *Request) *Result {
	if res := firstFailure(missing(req, "pass")); res != nil {
		return res
	}
	admin := auth.CheckPassword(d.cfg.PassHash, req.Get("pass"))
	res := ok(map[string]any{"asAdmin": admin})
	res.Session = &auth.Session{Admin: admin}
	return res
}

func (d *Dispatcher) logout(ctx context.Context, req *Request) *Result {
	res := ok(map[string]any{"asAdmin": false})
	res.Session = &auth.Session{Admin: false}
	return res
}
