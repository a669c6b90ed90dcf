package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/fdg312/siwa-relay/internal/config"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fdg312/siwa-relay/internal/auth"

// Service runs the Sign in with Apple steps. It holds no per-user state.
type Service struct {
	config     *config.Config
	decoder    *IdentityDecoder
	httpClient *http.Client
	newState   func() string
	tracer     trace.Tracer
}

// NewService builds the service. httpClient is used for Apple's token
// endpoint and JWKS; nil means a client bounded by APPLE_TOKEN_TIMEOUT.
func NewService(cfg *config.Config, httpClient *http.Client) *Service {
	var jwks *JWKSClient
	if cfg.Apple.VerifyIDToken {
		jwks = NewJWKSClient(cfg.Apple.JWKSURL, httpClient)
	}
	return NewServiceWithDecoder(cfg, httpClient, NewIdentityDecoder(jwks, cfg.Apple.Issuer))
}

func NewServiceWithDecoder(cfg *config.Config, httpClient *http.Client, decoder *IdentityDecoder) *Service {
	return &Service{
		config:     cfg,
		decoder:    decoder,
		httpClient: httpClient,
		newState:   uuid.NewString,
		tracer:     otel.Tracer(instrumentationName),
	}
}

// LoginURL builds Apple's authorization URL for the web service identifier.
func (s *Service) LoginURL() (string, error) {
	client, err := NewAppleClient(s.config.Apple, s.config.Apple.ServiceID, s.httpClient)
	if err != nil {
		return "", err
	}
	return client.AuthCodeURL(s.newState()), nil
}

// CallbackDeepLink turns Apple's callback parameters into the app deep link.
func (s *Service) CallbackDeepLink(params CallbackParams) (string, error) {
	pkg := strings.TrimSpace(s.config.AndroidPackage)
	if pkg == "" {
		return "", &ConfigError{Missing: []string{"ANDROID_PACKAGE_IDENTIFIER"}}
	}
	return DeepLink(params, pkg), nil
}

// ExchangeCode trades the app's authorization code for Apple's identity
// token and returns the user it names.
func (s *Service) ExchangeCode(ctx context.Context, req *CodeExchangeRequest) (*SessionResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.ExchangeCode",
		trace.WithAttributes(
			attribute.Bool("apple.use_bundle_id", req.UseBundleID),
			attribute.Bool("apple.verify_id_token", s.decoder.Verifies()),
		),
	)
	defer span.End()

	result, err := s.exchangeCode(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "code exchange failed")
	}
	return result, err
}

func (s *Service) exchangeCode(ctx context.Context, req *CodeExchangeRequest) (*SessionResult, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, ErrMissingCode
	}

	if missing := s.config.Apple.MissingFor(req.UseBundleID); len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	clientID := s.config.Apple.ClientID(req.UseBundleID)
	client, err := NewAppleClient(s.config.Apple, clientID, s.httpClient)
	if err != nil {
		return nil, err
	}

	idToken, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	claims, err := s.decoder.Decode(ctx, idToken, clientID)
	if err != nil {
		return nil, err
	}

	userName := DisplayName(req.FirstName, req.LastName)
	return &SessionResult{
		Success:   true,
		SessionID: PlaceholderSessionID(claims.Subject, claims.Email, userName),
		UserID:    claims.Subject,
		UserEmail: claims.Email,
		UserName:  userName,
	}, nil
}

// DisplayName joins the names the app collected; Apple never puts them in
// the identity token.
func DisplayName(firstName, lastName string) string {
	return strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
}

// PlaceholderSessionID stands in for real session issuance.
// TODO: issue a signed session token once the app has a session store.
func PlaceholderSessionID(userID, email, userName string) string {
	return "NEW SESSION ID for " + userID + " / " + email + " / " + userName
}
