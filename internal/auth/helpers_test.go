package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/fdg312/siwa-relay/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testTeamID    = "TEAM123456"
	testKeyID     = "KEY1234567"
	testServiceID = "com.example.app.signin"
	testBundleID  = "com.example.app"
	testKid       = "test-kid"
)

// fakeApple stands in for appleid.apple.com: a token endpoint, a JWKS
// endpoint and an authorize URL.
type fakeApple struct {
	t          *testing.T
	server     *httptest.Server
	signingKey *rsa.PrivateKey
	clientKey  *ecdsa.PrivateKey

	mu       sync.Mutex
	requests []url.Values
	used     map[string]bool

	// idClaims are the claims of the identity token returned for a code.
	idClaims jwt.MapClaims
	// tokenDelay slows the token endpoint down.
	tokenDelay time.Duration
}

func newFakeApple(t *testing.T) *fakeApple {
	t.Helper()

	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	clientKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	f := &fakeApple{
		t:          t,
		signingKey: signingKey,
		clientKey:  clientKey,
		used:       make(map[string]bool),
		idClaims: jwt.MapClaims{
			"sub":   "000123",
			"email": "jane@example.com",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", f.handleToken)
	mux.HandleFunc("GET /auth/keys", f.handleKeys)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeApple) handleToken(w http.ResponseWriter, r *http.Request) {
	if f.tokenDelay > 0 {
		select {
		case <-time.After(f.tokenDelay):
		case <-r.Context().Done():
			return
		}
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, r.PostForm)
	code := r.PostForm.Get("code")
	reused := f.used[code]
	f.used[code] = true
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if code == "" || reused || code == "EXPIRED" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "The code has expired or has been revoked.",
		})
		return
	}

	claims := jwt.MapClaims{
		"iss": "https://appleid.apple.com",
		"aud": r.PostForm.Get("client_id"),
		"iat": time.Now().Add(-time.Minute).Unix(),
		"exp": time.Now().Add(10 * time.Minute).Unix(),
	}
	for k, v := range f.idClaims {
		claims[k] = v
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "apple-access-token",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "apple-refresh-token",
		"id_token":      f.signIDToken(claims),
	})
}

func (f *fakeApple) handleKeys(w http.ResponseWriter, r *http.Request) {
	pub := f.signingKey.Public().(*rsa.PublicKey)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]any{{
			"kid": testKid,
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeApple) signIDToken(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(f.signingKey)
	require.NoError(f.t, err)
	return signed
}

func (f *fakeApple) tokenRequests() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.requests...)
}

func (f *fakeApple) clientKeyPEM() string {
	der, err := x509.MarshalPKCS8PrivateKey(f.clientKey)
	require.NoError(f.t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func (f *fakeApple) config() *config.Config {
	return &config.Config{
		Env:            config.EnvDevelopment,
		AndroidPackage: "com.example.app",
		Apple: config.AppleConfig{
			ServiceID:       testServiceID,
			BundleID:        testBundleID,
			TeamID:          testTeamID,
			KeyID:           testKeyID,
			PrivateKey:      f.clientKeyPEM(),
			RedirectURI:     "https://relay.example.com" + config.CallbackPath,
			AuthURL:         f.server.URL + "/auth/authorize",
			TokenURL:        f.server.URL + "/auth/token",
			Scopes:          []string{"name", "email"},
			TokenTimeout:    2 * time.Second,
			ClientSecretTTL: 5 * time.Minute,
			Issuer:          "https://appleid.apple.com",
			JWKSURL:         f.server.URL + "/auth/keys",
		},
	}
}
