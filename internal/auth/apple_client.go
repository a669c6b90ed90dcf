package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fdg312/siwa-relay/internal/config"
	"golang.org/x/oauth2"
)

const defaultTokenTimeout = 10 * time.Second

// AppleClient talks to Apple's authorize and token endpoints for a single
// client identifier.
type AppleClient struct {
	oauth      oauth2.Config
	secret     *ClientSecretSigner
	httpClient *http.Client
	timeout    time.Duration
}

// NewAppleClient validates the configuration and parses the signing key. It
// is cheap enough to build per request.
func NewAppleClient(cfg config.AppleConfig, clientID string, httpClient *http.Client) (*AppleClient, error) {
	var missing []string
	if strings.TrimSpace(clientID) == "" {
		missing = append(missing, "client identifier")
	}
	if cfg.TeamID == "" {
		missing = append(missing, "TEAM_ID")
	}
	if cfg.KeyID == "" {
		missing = append(missing, "KEY_ID")
	}
	if cfg.PrivateKey == "" {
		missing = append(missing, "KEY_CONTENTS")
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	signer, err := NewClientSecretSigner(cfg.TeamID, cfg.KeyID, clientID, cfg.PrivateKey, cfg.ClientSecretTTL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.TokenTimeout
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &AppleClient{
		oauth: oauth2.Config{
			ClientID:    clientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		secret:     signer,
		httpClient: httpClient,
		timeout:    timeout,
	}, nil
}

// AuthCodeURL returns Apple's login page URL. Apple only returns name and
// email via form_post.
func (c *AppleClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

// Exchange trades an authorization code for tokens and returns the raw
// identity token. Codes are single use; nothing is retried.
func (c *AppleClient) Exchange(ctx context.Context, code string) (string, error) {
	secret, err := c.secret.Sign()
	if err != nil {
		return "", err
	}

	conf := c.oauth
	conf.ClientSecret = secret

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return "", toUpstreamError(err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", fmt.Errorf("%w: token response has no id_token", ErrInvalidIdentityToken)
	}
	return idToken, nil
}

func toUpstreamError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		upstream := &UpstreamError{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
		}
		if retrieveErr.Response != nil {
			upstream.StatusCode = retrieveErr.Response.StatusCode
		}
		if upstream.Code == "" {
			upstream.Err = err
		}
		return upstream
	}
	return &UpstreamError{Err: err}
}
