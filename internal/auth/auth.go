// Package auth validates device connections against the configured
// whitelist and static bearer tokens.
package auth

import (
	"errors"
	"strings"

	"github.com/voxwire/voxwire/internal/config"
)

// ErrUnauthorized is returned when a connection presents neither a
// whitelisted device ID nor a valid bearer token.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Authenticator checks connection credentials. The device whitelist is
// consulted first so whitelisted hardware keeps working when tokens rotate.
type Authenticator struct {
	enabled bool
	devices map[string]struct{}
	tokens  map[string]string // token -> name
}

// New builds an Authenticator from the auth configuration.
func New(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		enabled: cfg.Enable,
		devices: make(map[string]struct{}, len(cfg.AllowedDevices)),
		tokens:  make(map[string]string, len(cfg.Tokens)),
	}
	for _, d := range cfg.AllowedDevices {
		a.devices[strings.ToLower(d)] = struct{}{}
	}
	for _, t := range cfg.Tokens {
		if t.Token != "" {
			a.tokens[t.Token] = t.Name
		}
	}
	return a
}

// Authenticate reports whether a connection from deviceID carrying the given
// Authorization header value may proceed. It returns the matched token name
// for logging ("" for whitelisted devices) or [ErrUnauthorized].
func (a *Authenticator) Authenticate(deviceID, authHeader string) (string, error) {
	if !a.enabled {
		return "", nil
	}
	if _, ok := a.devices[strings.ToLower(deviceID)]; ok {
		return "", nil
	}
	if token := bearerToken(authHeader); token != "" {
		if name, ok := a.tokens[token]; ok {
			return name, nil
		}
	}
	return "", ErrUnauthorized
}

// bearerToken extracts the token from an Authorization header value. The
// scheme matches case-insensitively; devices send "Bearer", "bearer", and
// worse.
func bearerToken(header string) string {
	const scheme = "bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}
