package security

import (
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"
)

// RequireConsoleKey guards the doctor-console routes (call-next, complete,
// no-show) behind a shared key sent in X-Console-Key. Only the bcrypt hash
// of the key is configured on the server. A record auth session passes
// too, so logged-in staff do not need the key.
func RequireConsoleKey(keyHash string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth != nil {
			return e.Next()
		}

		if keyHash == "" {
			return apis.NewForbiddenError("Console access is not configured", nil)
		}

		key := e.Request.Header.Get("X-Console-Key")
		if key == "" {
			return apis.NewUnauthorizedError("Console key required", nil)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
			return apis.NewUnauthorizedError("Invalid console key", nil)
		}

		return e.Next()
	}
}
