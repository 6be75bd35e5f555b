package tools

import (
	"errors"

	"github.com/vizulabs-com/vizpilot-mcp/internal/auth"
	"github.com/vizulabs-com/vizpilot-mcp/internal/ratelimit"
	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
)

// ArgumentError reports a malformed or missing tool argument. The message
// is safe to return verbatim.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string {
	return e.Message
}

// callerMessage maps a pipeline error to the message returned in a Failure
// payload. Expected error kinds pass their message through; anything else
// is an internal fault and collapses to a generic message so no backend
// detail leaks.
func callerMessage(err error) (string, bool) {
	var (
		authn *auth.AuthenticationError
		authz *auth.AuthorizationError
		rle   *ratelimit.RateLimitError
		nf    *store.NotFoundError
		arg   *ArgumentError
	)
	switch {
	case errors.As(err, &authn),
		errors.As(err, &authz),
		errors.As(err, &rle),
		errors.As(err, &nf),
		errors.As(err, &arg):
		return err.Error(), true
	default:
		return "Internal error", false
	}
}
