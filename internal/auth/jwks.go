package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	defaultJWKSURL = "https://appleid.apple.com/auth/keys"
	jwksCacheTTL   = time.Hour
)

type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSClient fetches and caches Apple's identity token signing keys.
type JWKSClient struct {
	url        string
	httpClient *http.Client
	cacheTTL   time.Duration
	group      singleflight.Group
	tracer     trace.Tracer

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func NewJWKSClient(url string, client *http.Client) *JWKSClient {
	jwksURL := strings.TrimSpace(url)
	if jwksURL == "" {
		jwksURL = defaultJWKSURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSClient{
		url:        jwksURL,
		httpClient: client,
		cacheTTL:   jwksCacheTTL,
		tracer:     otel.Tracer(instrumentationName),
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// GetKey returns the key for kid, refreshing the set when it is stale or the
// kid is unknown (Apple rotates keys).
func (c *JWKSClient) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(kid) == "" {
		return nil, ErrInvalidIdentityToken
	}

	c.mu.RLock()
	fresh := !c.fetched.IsZero() && time.Since(c.fetched) < c.cacheTTL
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if fresh && ok {
		return key, nil
	}

	if _, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidIdentityToken
	}
	return key, nil
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "auth.JWKSRefresh", trace.WithAttributes(attribute.String("jwks.url", c.url)))
	defer span.End()

	n, err := c.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "jwks refresh failed")
		return err
	}
	span.SetAttributes(attribute.Int("jwks.keys", n))
	return nil
}

func (c *JWKSClient) fetch(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected JWKS status: %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if strings.TrimSpace(k.Kid) == "" || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return 0, errors.New("jwks does not contain usable rsa keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.fetched = time.Now()
	c.mu.Unlock()
	return len(keys), nil
}

func rsaPublicKeyFromJWK(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, err
	}

	exponent := 0
	for _, b := range eBytes {
		exponent = exponent<<8 + int(b)
	}
	if exponent <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: exponent}, nil
}
