package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigIncomplete     = errors.New("apple sign in configuration incomplete")
	ErrInvalidClientConfig  = errors.New("invalid apple client configuration")
	ErrMissingCode          = errors.New("code is required")
	ErrUpstream             = errors.New("apple token exchange failed")
	ErrInvalidIdentityToken = errors.New("invalid identity token")
	ErrJWKSFetchFailed      = errors.New("jwks fetch failed")
	ErrUnsupportedBody      = errors.New("unsupported callback body")
)

// ConfigError names the configuration values that were missing. The names
// are for server logs only.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrConfigIncomplete, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Unwrap() error { return ErrConfigIncomplete }

// UpstreamError is a failed call to Apple's token endpoint. Code and
// Description come from Apple's OAuth error body when there was one.
type UpstreamError struct {
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUpstream, e.Message())
}

// Message is the text handed back to the caller.
func (e *UpstreamError) Message() string {
	switch {
	case e.Code != "" && e.Description != "":
		return e.Code + ": " + e.Description
	case e.Code != "":
		return e.Code
	case e.Err != nil:
		return e.Err.Error()
	case e.StatusCode != 0:
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	default:
		return "unknown error"
	}
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpstream, e.Err}
	}
	return []error{ErrUpstream}
}
