package credentials

import "github.com/google/uuid"

// newAuthorizationState mints the opaque value that ties a browser redirect
// back to the flow that launched it. UUIDs come from crypto/rand, so the
// value is unguessable by other local processes racing for the callback
// port.
func newAuthorizationState() string {
	return uuid.NewString()
}
