package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/coinflip/internal/crypto"
	"github.com/alanyoungcy/coinflip/internal/domain"
)

// Request signature headers.
const (
	HeaderAddress   = "X-Coinflip-Address"
	HeaderTimestamp = "X-Coinflip-Timestamp"
	HeaderSignature = "X-Coinflip-Signature"
	HeaderNonce     = "X-Coinflip-Nonce"
)

const (
	maxSignedBody = 1 << 20
	maxNonceLen   = 128
)

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFrom returns the authenticated caller stored by Authenticate.
func CallerFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(callerKey{}).(domain.Identity)
	return id, ok
}

// Authenticate returns middleware that verifies the request signature. The
// signer recovered from X-Coinflip-Signature must equal X-Coinflip-Address
// and the X-Coinflip-Timestamp (unix seconds) must lie within maxSkew of the
// server clock. X-Coinflip-Nonce is covered by the signature and is claimed
// in nonces for twice maxSkew, which outlives every timestamp still accepted,
// so a request is honoured at most once. The body is buffered and restored
// for the next handler.
func Authenticate(maxSkew time.Duration, nonces domain.NonceStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claimed, err := domain.ParseIdentity(strings.TrimSpace(r.Header.Get(HeaderAddress)))
			if err != nil {
				writeUnauthorized(w, "missing or invalid "+HeaderAddress)
				return
			}
			ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
			if err != nil {
				writeUnauthorized(w, "missing or invalid "+HeaderTimestamp)
				return
			}
			if skew := time.Since(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
				writeUnauthorized(w, "request timestamp outside allowed clock skew")
				return
			}
			nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
			if nonce == "" || len(nonce) > maxNonceLen {
				writeUnauthorized(w, "missing or invalid "+HeaderNonce)
				return
			}
			sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
			if sig == "" {
				writeUnauthorized(w, "missing "+HeaderSignature)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			if len(body) > maxSignedBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", "REQUEST_TOO_LARGE")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverAddress(crypto.RequestMessage(r.Method, r.URL.Path, ts, nonce, body), sig)
			if err != nil || domain.IdentityFromAddress(addr) != claimed {
				writeUnauthorized(w, "signature does not match "+HeaderAddress)
				return
			}

			fresh, err := nonces.Claim(r.Context(), claimed.String()+":"+nonce, 2*maxSkew)
			if err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, "nonce store unavailable", domain.CodeInternal)
				return
			}
			if !fresh {
				writeUnauthorized(w, "request nonce already used")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claimed)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg, domain.CodeUnauthorized)
}

func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	data, _ := json.Marshal(map[string]string{"error": msg, "code": code})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
