package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"rackops/internal/audit"
	"rackops/internal/auth"
)

type authResultKey struct{}

// Request bodies are buffered for signature verification; cap them well
// above the details limit but below anything that could hurt.
const maxBodyBytes = 1 << 20

// DualAuth gates every job-related route through the dual authenticator.
// The body is buffered so the HMAC payload can be rebuilt, then restored
// for the handler. Rejections are deliberately uniform: callers never learn
// whether a signature was stale, forged, or malformed.
func DualAuth(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			// An absent body signs as the empty object; the executor
			// client does the same for GETs.
			payload := json.RawMessage(body)
			if len(bytes.TrimSpace(body)) == 0 {
				payload = json.RawMessage(`{}`)
			}

			res := a.Authenticate(r.Header, payload)
			if !res.Authenticated {
				audit.LogWithIP(audit.EventAuthRejected, res.CallerID, r.URL.Path,
					r.RemoteAddr, map[string]interface{}{"method": res.Method})
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthFromContext returns the authentication result stashed by DualAuth.
func AuthFromContext(ctx context.Context) auth.Result {
	if res, ok := ctx.Value(authResultKey{}).(auth.Result); ok {
		return res
	}
	return auth.Result{}
}
