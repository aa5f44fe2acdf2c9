package credentials

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// newIdPClient builds the HTTP client used against identity providers.
// Retries stay off: a failed exchange surfaces immediately and the caller
// decides whether to run the flow again. The library's own logger is
// silenced so IdP traffic never leaks into unrelated log output.
func newIdPClient(timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	return rc.StandardClient()
}
