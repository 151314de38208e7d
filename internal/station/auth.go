package station

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/k-ogaki/deepwatch/internal/logger"
)

const adminKeyHeader = "X-Admin-Key"

// adminOnly guards mutating endpoints with the configured admin key.
// An empty hash disables the check so development setups work out of
// the box.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminKeyHash == "" {
			next(w, r)
			return
		}

		key := r.Header.Get(adminKeyHeader)
		if key == "" {
			writeJSONWithStatus(w, map[string]any{"error": "admin key required"}, http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminKeyHash), []byte(key)); err != nil {
			logger.Warn("Station", "Rejected admin request from %s: invalid key", r.RemoteAddr)
			writeJSONWithStatus(w, map[string]any{"error": "invalid admin key"}, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}
