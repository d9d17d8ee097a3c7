package master

import (
	"crypto/sha256"
	"net/http"

	"github.com/tent/hawk-go"
)

// requireAuth wraps a handler with Hawk signature verification. With no
// access token configured the master runs open and the handler is served
// as-is. GET requests may authenticate with a bewit query parameter instead
// of an Authorization header, which is how the events feed is reached from
// places that cannot set headers.
func (m *Master) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.config.AccessToken == "" {
			h(w, r)
			return
		}
		auth, err := hawk.NewAuthFromRequest(r, m.lookupCredentials, nil)
		if err != nil {
			m.logger.WithError(err).WithField("path", r.URL.Path).Warn("rejecting unauthenticated request")
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if err := auth.Valid(); err != nil {
			m.logger.WithError(err).WithField("path", r.URL.Path).Warn("rejecting request with invalid signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// lookupCredentials fills in the shared access token for whatever client ID
// the request was signed with. Every caller shares the one token.
func (m *Master) lookupCredentials(creds *hawk.Credentials) error {
	creds.Key = m.config.AccessToken
	creds.Hash = sha256.New
	return nil
}
