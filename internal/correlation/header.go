package correlation

import (
	"net/textproto"
	"strings"
)

// DefaultHeader is the header used when none is configured
const DefaultHeader = "X-Request-ID"

// HeaderName canonicalises a configured header name. CGI-style names such as
// HTTP_X_REQUEST_ID are accepted and mapped to X-Request-Id.
func HeaderName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "HTTP_") {
		name = strings.ReplaceAll(strings.TrimPrefix(name, "HTTP_"), "_", "-")
	}
	return textproto.CanonicalMIMEHeaderKey(name)
}
