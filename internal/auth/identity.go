package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityDecoder reads the identity token Apple returns from the code
// exchange. Without a JWKS client it only decodes the payload; the token came
// straight from Apple over TLS. With one it also checks signature, issuer,
// audience and expiry.
type IdentityDecoder struct {
	jwks   *JWKSClient
	issuer string
	now    func() time.Time
}

func NewIdentityDecoder(jwks *JWKSClient, issuer string) *IdentityDecoder {
	if strings.TrimSpace(issuer) == "" {
		issuer = AppleAudience
	}
	return &IdentityDecoder{jwks: jwks, issuer: issuer, now: time.Now}
}

// Verifies reports whether Decode checks signatures.
func (d *IdentityDecoder) Verifies() bool {
	return d.jwks != nil
}

// Decode returns the subject and email of rawToken. audience is the client
// identifier that performed the exchange.
func (d *IdentityDecoder) Decode(ctx context.Context, rawToken, audience string) (*IdentityClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrInvalidIdentityToken
	}

	var claims *AppleIdentityClaims
	var err error
	if d.jwks == nil {
		claims, err = decodeUnverified(rawToken)
	} else {
		claims, err = d.verify(ctx, rawToken, audience)
	}
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrInvalidIdentityToken
	}
	return &IdentityClaims{Subject: claims.Subject, Email: claims.Email}, nil
}

func decodeUnverified(rawToken string) (*AppleIdentityClaims, error) {
	claims := &AppleIdentityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, ErrInvalidIdentityToken
	}
	return claims, nil
}

func (d *IdentityDecoder) verify(ctx context.Context, rawToken, audience string) (*AppleIdentityClaims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, ErrInvalidIdentityToken
	}
	kid, ok := unverified.Header["kid"].(string)
	if !ok || strings.TrimSpace(kid) == "" {
		return nil, ErrInvalidIdentityToken
	}

	publicKey, err := d.jwks.GetKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(d.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(d.now),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	claims := &AppleIdentityClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return publicKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidIdentityToken
	}
	return claims, nil
}
