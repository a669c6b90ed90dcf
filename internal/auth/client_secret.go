package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppleAudience is the audience Apple expects in client secrets.
const AppleAudience = "https://appleid.apple.com"

const defaultClientSecretTTL = 5 * time.Minute

// ClientSecretSigner mints the short-lived ES256 JWT Apple accepts as
// client_secret, signed with the developer's .p8 key.
type ClientSecretSigner struct {
	teamID   string
	keyID    string
	clientID string
	key      *ecdsa.PrivateKey
	ttl      time.Duration
	now      func() time.Time
}

func NewClientSecretSigner(teamID, keyID, clientID, privateKeyPEM string, ttl time.Duration) (*ClientSecretSigner, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultClientSecretTTL
	}
	return &ClientSecretSigner{
		teamID:   teamID,
		keyID:    keyID,
		clientID: clientID,
		key:      key,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Sign returns a fresh client secret.
func (s *ClientSecretSigner) Sign() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.teamID,
		Subject:   s.clientID,
		Audience:  jwt.ClaimStrings{AppleAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign client secret: %w", err)
	}
	return signed, nil
}

// ParsePrivateKey decodes an Apple .p8 key (PKCS8 or SEC1). Errors never
// include key bytes.
func ParsePrivateKey(privateKeyPEM string) (*ecdsa.PrivateKey, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(strings.TrimSpace(privateKeyPEM)))
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, jwt.ErrKeyMustBePEMEncoded):
		return nil, fmt.Errorf("%w: private key is not PEM encoded", ErrInvalidClientConfig)
	case errors.Is(err, jwt.ErrNotECPrivateKey):
		return nil, fmt.Errorf("%w: private key is not ECDSA", ErrInvalidClientConfig)
	default:
		return nil, fmt.Errorf("%w: unreadable private key", ErrInvalidClientConfig)
	}
}
