package panel

import "errors"

var (
	// ErrUnsupportedServer is returned for a server id that is not configured. Not retryable.
	ErrUnsupportedServer = errors.New("unsupported server")

	// ErrServerUnavailable covers transport failures, timeouts and sessions that
	// could not be refreshed. Retryable by the caller.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrSessionExpired is raised by a PanelClient when the panel no longer
	// accepts the stored session.
	ErrSessionExpired = errors.New("panel session expired")

	// ErrRejected means the panel answered but refused the request.
	ErrRejected = errors.New("panel rejected request")

	// ErrClientNotFound means no client with the requested id exists on the inbound.
	ErrClientNotFound = errors.New("client not found")
)
