package bridge

import (
	"net/http"

	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/httputil"
	"github.com/ignite/engagex/internal/pkg/logger"
)

// Middleware rejects requests without a valid assertion with 401 and stores
// the verified identity in the request context otherwise.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	log := logger.With("component", "bridge")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.VerifyRequest(r)
			if err != nil {
				why := reason(err)
				metrics.BridgeRejections.WithLabelValues(why).Inc()
				log.Warn("identity assertion rejected", "reason", why, "path", r.URL.Path)
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
