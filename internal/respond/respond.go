// Package respond writes the gateway's uniform wire envelopes. Typed auth
// errors are translated here, exactly once, on their way out.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/forkful/gateway/internal/domain/auth"
)

// Error writes the uniform error envelope {status, message, code}.
func Error(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str("error") })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// AuthError translates err into the wire envelope. Typed trust-layer errors
// keep their kind's status and safe message; anything else is logged and
// collapsed to a generic 500 so internals never leak.
func AuthError(w http.ResponseWriter, r *http.Request, err error) {
	if kind, ok := auth.KindOf(err); ok {
		Error(w, kind.HTTPStatus(), err.Error())
		return
	}
	zctx.From(r.Context()).Error("internal error", zap.Error(err))
	Error(w, http.StatusInternalServerError, "Internal server error")
}

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
