package callback

import (
	"fmt"
	"net"
	"net/http"
)

// The browser always gets one of these two fixed pages, so the user sees a
// completed interaction whatever the server-side verdict was.

const successPage = `<!DOCTYPE html>
<html>
<head><title>Sign-in complete</title></head>
<body>
<h2>Sign-in complete</h2>
<p>You have been authenticated. You can close this window and return to your application.</p>
</body>
</html>
`

const invalidPage = `<!DOCTYPE html>
<html>
<head><title>Invalid request</title></head>
<body>
<h2>Invalid request</h2>
<p>The sign-in response could not be accepted. Close this window and retry from your application.</p>
</body>
</html>
`

// writePage writes a minimal HTTP/1.1 response carrying the page. Failures
// are ignored: the browser-facing write is best effort and the stored
// result is what the caller acts on.
func writePage(conn net.Conn, status int, body string) {
	_, _ = fmt.Fprintf(conn,
		"HTTP/1.1 %d %s\r\nContent-Type: text/html; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
}
