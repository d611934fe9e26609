// Package device names the browser an admin signs in from.
package device

import (
	"context"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

const Unknown = "Unknown Device"

// ParseUserAgent extracts a human-readable device display name from User-Agent string.
// Returns format: "Browser on OS" (e.g., "Chrome on macOS", "Safari on iOS")
func ParseUserAgent(userAgentString string) string {
	if strings.TrimSpace(userAgentString) == "" {
		return Unknown
	}

	ua := useragent.New(userAgentString)

	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" && browser != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}

	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

type contextKey struct{}

// WithName stores the device name on ctx.
func WithName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, contextKey{}, name)
}

// Name returns the device name stored on ctx, or "" outside a request.
func Name(ctx context.Context) string {
	name, _ := ctx.Value(contextKey{}).(string)
	return name
}

// Middleware names the requesting device from its User-Agent.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithName(r.Context(), ParseUserAgent(r.Header.Get("User-Agent")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
