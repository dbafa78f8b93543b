package api

import (
	"net/http"

	"github.com/ignite/engagex/internal/bridge"
	"github.com/ignite/engagex/internal/pkg/logger"
)

var log = logger.With("component", "api")

// orgID is the organization of the verified caller. Route handlers never
// read an organization from the path, query or body.
func orgID(r *http.Request) string {
	return bridge.OrganizationID(r.Context())
}

func userID(r *http.Request) string {
	if id, ok := bridge.FromContext(r.Context()); ok {
		return id.UserID
	}
	return ""
}
