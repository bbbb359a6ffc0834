package auth

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

// Executor request headers for the HMAC path.
const (
	HeaderSignature = "X-Executor-Signature"
	HeaderTimestamp = "X-Executor-Timestamp"
)

type Method string

const (
	MethodHMAC   Method = "hmac"
	MethodBearer Method = "bearer"
	MethodNone   Method = "none"
)

// Result is the outcome of authenticating one request. CallerID is set for
// the bearer path only; machine callers carry no bound human identity.
type Result struct {
	Authenticated bool   `json:"authenticated"`
	Method        Method `json:"method"`
	CallerID      string `json:"caller_id,omitempty"`
}

// Authenticator decides between the executor HMAC path and the human bearer
// path for each request. Immutable after construction.
type Authenticator struct {
	secret string
	tokens TokenVerifier
}

func NewAuthenticator(sharedSecret string, tokens TokenVerifier) *Authenticator {
	return &Authenticator{secret: sharedSecret, tokens: tokens}
}

// Authenticate runs the decision order: presenting both executor headers is
// a claim of machine identity and is verified exclusively via HMAC, never
// retried as a bearer caller. With no credentials at all, the request is
// allowed only when no shared secret is configured system-wide (open mode).
func (a *Authenticator) Authenticate(hdr http.Header, payload json.RawMessage) Result {
	sig := hdr.Get(HeaderSignature)
	ts := hdr.Get(HeaderTimestamp)
	if sig != "" && ts != "" {
		if err := VerifySignature(payload, sig, ts, a.secret); err != nil {
			log.Printf("executor signature rejected: %v", err)
			return Result{Method: MethodHMAC}
		}
		return Result{Authenticated: true, Method: MethodHMAC}
	}

	var token string
	if authHeader := hdr.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token != "" {
		callerID, err := a.tokens.Verify(token)
		if err != nil {
			return Result{Method: MethodBearer}
		}
		return Result{Authenticated: true, Method: MethodBearer, CallerID: callerID}
	}

	if a.secret == "" {
		return Result{Authenticated: true, Method: MethodNone}
	}
	return Result{Method: MethodNone}
}
