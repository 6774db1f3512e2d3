package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/birdnest/apiserver/internal/apperr"
)

const maxPeekBytes = 1 << 20

// Middleware authorizes each request with mode and stores the result in the
// request context. Token fields are read from a JSON body, which is restored
// for the next handler.
func (z *Authorizer) Middleware(mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := credentials(r, mode)
			if err != nil {
				apperr.Write(w, z.logger, err)
				return
			}

			a, err := z.Authorize(r.Context(), mode, creds)
			if err != nil {
				apperr.Write(w, z.logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthorization(r.Context(), a)))
		})
	}
}

func credentials(r *http.Request, mode Mode) (Credentials, error) {
	creds := Credentials{Authorization: r.Header.Get("Authorization")}
	if !mode.readsBody() || r.Body == nil {
		return creds, nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	if err != nil {
		return creds, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(buf))

	var fields Credentials
	if len(bytes.TrimSpace(buf)) > 0 {
		// A body that is not JSON just yields no token fields; the handler
		// reports the decode error.
		_ = json.Unmarshal(buf, &fields)
	}
	creds.RefreshToken = fields.RefreshToken
	creds.VerifyEmailToken = fields.VerifyEmailToken
	creds.ForgotPasswordToken = fields.ForgotPasswordToken
	return creds, nil
}
