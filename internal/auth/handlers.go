package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/fdg312/siwa-relay/internal/config"
	"github.com/fdg312/siwa-relay/internal/metrics"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 64 << 10

	msgLoginFailed    = "Apple authentication setup failed"
	msgCallbackFailed = "Callback processing failed"
	msgConfigError    = "Server configuration error"
)

type Handlers struct {
	service *Service
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewHandlers(service *Service, logger *zap.SugaredLogger, m *metrics.Metrics) *Handlers {
	return &Handlers{service: service, logger: logger, metrics: m}
}

// Register mounts the Sign in with Apple routes.
func (h *Handlers) Register(r chi.Router) {
	r.Get("/auth/apple", h.HandleLogin)
	r.Get(config.CallbackPath, h.HandleCallback)
	r.Post(config.CallbackPath, h.HandleCallback)
	r.Post("/sign_in_with_apple", h.HandleSignIn)
}

// HandleLogin handles GET /auth/apple.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.service.LoginURL()
	if err != nil {
		h.logger.Errorw("apple login setup failed", "error", err)
		h.metrics.ObserveLoginRedirect(metrics.OutcomeConfigError)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgLoginFailed})
		return
	}

	h.metrics.ObserveLoginRedirect(metrics.OutcomeOK)
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// HandleCallback handles GET and POST /callbacks/sign_in_with_apple.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	transport := strings.ToLower(r.Method)

	params, err := readCallbackParams(w, r)
	if err == nil {
		h.logger.Infow("apple callback received", "transport", transport, "keys", params.Keys())
		var link string
		link, err = h.service.CallbackDeepLink(params)
		if err == nil {
			h.logger.Debugw("redirecting to app", "package", h.service.config.AndroidPackage)
			h.metrics.ObserveCallback(transport, metrics.OutcomeOK)
			// 307 keeps the method if the client replays the request.
			http.Redirect(w, r, link, http.StatusTemporaryRedirect)
			return
		}
	}

	h.logger.Errorw("apple callback failed", "transport", transport, "error", err)
	h.metrics.ObserveCallback(transport, metrics.OutcomeError)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgCallbackFailed})
}

// HandleSignIn handles POST /sign_in_with_apple.
func (h *Handlers) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := readCodeExchangeRequest(w, r)
	if err != nil {
		h.metrics.ObserveExchange(metrics.OutcomeBadRequest, 0)
		writeJSON(w, http.StatusBadRequest, ExchangeErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.service.ExchangeCode(r.Context(), req)
	if err != nil {
		status, outcome, message := h.mapExchangeError(err)
		h.metrics.ObserveExchange(outcome, time.Since(start))
		writeJSON(w, status, ExchangeErrorResponse{Error: message})
		return
	}

	h.logger.Infow("apple sign in succeeded", "user_id", result.UserID, "bundle_client", req.UseBundleID)
	h.metrics.ObserveExchange(metrics.OutcomeOK, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) mapExchangeError(err error) (status int, outcome, message string) {
	var cfgErr *ConfigError
	var upstream *UpstreamError

	switch {
	case errors.Is(err, ErrMissingCode):
		return http.StatusBadRequest, metrics.OutcomeBadRequest, ErrMissingCode.Error()
	case errors.As(err, &cfgErr):
		h.logger.Errorw("apple sign in misconfigured", "missing", cfgErr.Missing)
		return http.StatusInternalServerError, metrics.OutcomeConfigError, msgConfigError
	case errors.Is(err, ErrInvalidClientConfig):
		h.logger.Errorw("apple sign in misconfigured", "error", err)
		return http.StatusInternalServerError, metrics.OutcomeConfigError, msgConfigError
	case errors.As(err, &upstream):
		h.logger.Warnw("apple token exchange failed", "status", upstream.StatusCode, "error", upstream.Message())
		return http.StatusInternalServerError, metrics.OutcomeUpstreamError, upstream.Message()
	case errors.Is(err, ErrJWKSFetchFailed):
		h.logger.Errorw("apple jwks fetch failed", "error", err)
		return http.StatusInternalServerError, metrics.OutcomeTokenError, "Failed to fetch Apple JWKS"
	case errors.Is(err, ErrInvalidIdentityToken):
		h.logger.Warnw("apple identity token rejected", "error", err)
		return http.StatusInternalServerError, metrics.OutcomeTokenError, ErrInvalidIdentityToken.Error()
	default:
		h.logger.Errorw("apple sign in failed", "error", err)
		return http.StatusInternalServerError, metrics.OutcomeError, err.Error()
	}
}

func readCallbackParams(w http.ResponseWriter, r *http.Request) (CallbackParams, error) {
	if r.Method == http.MethodGet {
		return ParseCallbackQuery(r.URL.RawQuery)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read callback body: %w", err)
	}

	switch mediaType(r) {
	case "application/json":
		return ParseCallbackJSON(bytes.NewReader(body))
	case "", "application/x-www-form-urlencoded", "text/plain":
		return ParseCallbackQuery(strings.TrimSpace(string(body)))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBody, mediaType(r))
	}
}

type codeExchangeBody struct {
	Code        string `json:"code"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	UseBundleID any    `json:"useBundleId"`
}

// readCodeExchangeRequest takes parameters from the query string, falling
// back to a form or JSON body for values the query does not carry.
func readCodeExchangeRequest(w http.ResponseWriter, r *http.Request) (*CodeExchangeRequest, error) {
	q := r.URL.Query()
	req := &CodeExchangeRequest{
		Code:        q.Get("code"),
		FirstName:   q.Get("firstName"),
		LastName:    q.Get("lastName"),
		UseBundleID: parseBool(q.Get("useBundleId")),
	}
	if req.Code != "" || r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	switch mediaType(r) {
	case "application/json":
		var body codeExchangeBody
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		req.Code = body.Code
		req.FirstName = firstNonEmpty(req.FirstName, body.FirstName)
		req.LastName = firstNonEmpty(req.LastName, body.LastName)
		if body.UseBundleID != nil {
			req.UseBundleID = req.UseBundleID || parseBool(fmt.Sprint(body.UseBundleID))
		}
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		req.Code = r.PostForm.Get("code")
		req.FirstName = firstNonEmpty(req.FirstName, r.PostForm.Get("firstName"))
		req.LastName = firstNonEmpty(req.LastName, r.PostForm.Get("lastName"))
		req.UseBundleID = req.UseBundleID || parseBool(r.PostForm.Get("useBundleId"))
	}
	return req, nil
}

func mediaType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
