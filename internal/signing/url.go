package signing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL marks every signing URL rejection so callers can map the
// whole family of failures to one refusal.
var ErrInvalidURL = errors.New("signing: invalid signing url")

// ValidateSigningURL rejects signing URLs that must never be opened for
// a real session: blank, relative, non-http(s), or pointing at a local
// or mock endpoint. The last case guards against development gateway
// configuration leaking into production signing flows.
func ValidateSigningURL(raw string, blocked []string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: blank", ErrInvalidURL)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%w: %q is not parseable: %v", ErrInvalidURL, trimmed, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, trimmed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %q has unsupported scheme %q", ErrInvalidURL, trimmed, parsed.Scheme)
	}
	lowered := strings.ToLower(trimmed)
	for _, part := range blocked {
		if part != "" && strings.Contains(lowered, strings.ToLower(part)) {
			return fmt.Errorf("%w: %q points at a blocked endpoint (%q)", ErrInvalidURL, trimmed, part)
		}
	}
	return nil
}
