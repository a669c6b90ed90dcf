package auth

import "github.com/golang-jwt/jwt/v5"

// CodeExchangeRequest is what the native app sends after Apple hands it an
// authorization code.
type CodeExchangeRequest struct {
	Code        string
	FirstName   string
	LastName    string
	UseBundleID bool
}

// SessionResult is returned to the app after a successful exchange.
// SessionID is a placeholder, not a usable session token.
type SessionResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail,omitempty"`
	UserName  string `json:"userName"`
}

// ExchangeErrorResponse is the failure body of POST /sign_in_with_apple.
type ExchangeErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ErrorResponse is the failure body of the login and callback routes.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AppleIdentityClaims are the claims inside an Apple identity token. Email is
// only present the first time a user authorizes the app.
type AppleIdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IdentityClaims is the subset of the identity token the relay uses.
type IdentityClaims struct {
	Subject string
	Email   string
}
