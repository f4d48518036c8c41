// Package header provides header handling for the lumos gateway.
//
// The gateway sits between an Ollama client and a remote OpenAI-compatible
// endpoint like so:
//
//	Client <--> Gateway <--> Upstream chat completion API
//
// Each leg negotiates compression, hops and encoding independently, and the
// gateway owns authentication and content type towards the upstream.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// RequestIDHeader carries the per-request id on both legs.
	RequestIDHeader = "X-Request-Id"

	contentTypeJSON = "application/json"
	acceptSSE       = "text/event-stream"
)

// Handler manages headers between gateway connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest is the set of request headers (client --> gateway --> upstream)
// that are not forwarded to the upstream API.
var skipRequest = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Connection":    {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Upgrade":             {},

	// Go's http.Transport sets Host from the upstream URL.
	"Host": {},

	// Stripped so http.Transport negotiates gzip itself and transparently
	// decompresses the upstream response.
	"Accept-Encoding": {},

	// The outbound body is re-encoded, so its length and type are the gateway's.
	"Content-Length": {},
	"Content-Type":   {},
	"Accept":         {},

	// Inbound requests are unauthenticated; the upstream key comes from the
	// keys file and never from the client.
	"Authorization": {},

	// Browser context belongs to the local client only.
	"Cookie":  {},
	"Origin":  {},
	"Referer": {},
}

// skipResponse is the set of upstream response headers (client <-- gateway <-- upstream)
// that are not copied back to the downstream client.
var skipResponse = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection":         {},
	"Keep-Alive":         {},
	"Proxy-Authenticate": {},
	"Trailer":            {},
	"Upgrade":            {},

	// fasthttp manages chunked transfer encoding for the client-facing
	// response independently.
	"Transfer-Encoding": {},

	// The gateway always reads a decompressed body.
	"Content-Encoding": {},

	// The body is reframed, so the upstream length and type no longer apply.
	"Content-Length": {},
	"Content-Type":   {},

	"Set-Cookie": {},
}

// skipPrefixes drops whole header families on both legs. CORS headers are
// owned by the gateway's cors middleware; Sec- headers are browser fetch
// metadata.
var skipPrefixes = []string{"Access-Control-", "Sec-"}

func skipped(set map[string]struct{}, key string) bool {
	key = http.CanonicalHeaderKey(key)
	if _, ok := set[key]; ok {
		return true
	}
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// SetUpstreamRequestHeaders copies request headers from the Fiber context to
// the outgoing http.Request, filtering headers that the gateway should not
// forward, then sets the headers an OpenAI-compatible streaming call needs.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request, apiKey, requestID string) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if !skipped(skipRequest, k) {
			req.Header.Set(k, string(value))
		}
	})

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", acceptSSE)
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
}

// SetClientResponseHeaders copies response headers from the upstream API
// http.Response to the Fiber context, filtering headers that the gateway
// should not forward back down to the client.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if skipped(skipResponse, k) {
			continue
		}
		// The gateway's own request id wins over the upstream's.
		if http.CanonicalHeaderKey(k) == RequestIDHeader && len(c.Response().Header.Peek(RequestIDHeader)) > 0 {
			continue
		}
		c.Set(k, strings.Join(v, ", "))
	}
}
