// Package handler exposes the admin sign-in flow over HTTP. Each request is
// bound to the session machine of its browser tab.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"clubadmin/internal/admin/guard"
	"clubadmin/internal/admin/identity"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/notify"
	"clubadmin/internal/admin/session"
	jwttoken "clubadmin/internal/jwt_token"
	"clubadmin/internal/platform/nethealth"
	"clubadmin/internal/resilient"
	dErrors "clubadmin/pkg/domain-errors"
	"clubadmin/pkg/platform/httputil"
	request "clubadmin/pkg/platform/middleware/request"
	"clubadmin/pkg/platform/validation"
)

const (
	DefaultResendCooldown = 60 * time.Second
	DefaultMaxUIAttempts  = 3
	maxExtendMinutes      = 8 * 60
)

// Machines resolves the session machine of a tab.
type Machines interface {
	Get(ctx context.Context, key session.Key) (*session.Machine, error)
}

// evictNotifier is implemented by machine sources that drop idle tabs.
type evictNotifier interface {
	OnEvict(fn func(session.Key))
}

// BlockingDetector checks whether the remote store is reachable from this host.
type BlockingDetector interface {
	DetectBlockingExtensions(ctx context.Context) (*resilient.BlockingResult, error)
}

type Handler struct {
	machines Machines
	gate     *guard.Gate
	clients  *jwttoken.ClientTokenService
	detector BlockingDetector
	health   *nethealth.Health
	limits   *tabLimits
	logger   *slog.Logger

	loginPageURL   string
	resendCooldown time.Duration
	maxUIAttempts  int
	now            func() time.Time
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithResendCooldown sets the minimum gap between two sends for one tab.
func WithResendCooldown(d time.Duration) Option {
	return func(h *Handler) {
		if d >= 0 {
			h.resendCooldown = d
		}
	}
}

// WithMaxUIAttempts caps failed verifications per sent token. Zero disables the cap.
func WithMaxUIAttempts(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.maxUIAttempts = n
		}
	}
}

// WithLoginPageURL sets where the redirect callback sends the browser.
func WithLoginPageURL(url string) Option {
	return func(h *Handler) {
		if url != "" {
			h.loginPageURL = url
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func New(machines Machines, gate *guard.Gate, clients *jwttoken.ClientTokenService, detector BlockingDetector, health *nethealth.Health, opts ...Option) *Handler {
	h := &Handler{
		machines:       machines,
		gate:           gate,
		clients:        clients,
		detector:       detector,
		health:         health,
		logger:         slog.Default(),
		loginPageURL:   "/admin/login",
		resendCooldown: DefaultResendCooldown,
		maxUIAttempts:  DefaultMaxUIAttempts,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.limits = newTabLimits(h.resendCooldown, h.maxUIAttempts, h.now)
	if n, ok := machines.(evictNotifier); ok {
		n.OnEvict(func(k session.Key) { h.limits.reset(k.Tab) })
	}
	return h
}

// Register registers the admin routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/auth/state", h.HandleState)
	r.Post("/admin/auth/signin", h.HandleSignIn)
	r.Get("/admin/auth/callback", h.HandleCallback)
	r.Post("/admin/auth/verify", h.HandleVerify)
	r.Post("/admin/auth/resend", h.HandleResend)
	r.Post("/admin/auth/logout", h.HandleLogout)
	r.Post("/admin/auth/extend", h.HandleExtend)
	r.Get("/admin/auth/notifications", h.HandleNotifications)
	r.Get("/admin/connectivity", h.HandleConnectivity)

	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(h.snapshot))
		r.Get("/admin/me", h.HandleMe)
	})
}

// StateResponse is the client view of a tab's session.
type StateResponse struct {
	models.Snapshot
	StoreMode         string `json:"storeMode"`
	CanEnter          bool   `json:"canEnter"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
	ResendAvailableIn int    `json:"resendAvailableIn"`
	RedirectURL       string `json:"redirectUrl,omitempty"`
}

type signInRequest struct {
	Code      string `json:"code"`
	Cancelled bool   `json:"cancelled"`
}

func (r *signInRequest) Normalize() {
	r.Code = strings.TrimSpace(r.Code)
}

func (r *signInRequest) Validate() error {
	return validation.CheckStringLength("code", r.Code, validation.MaxAuthCodeLength)
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (r *verifyRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

func (r *verifyRequest) Validate() error {
	return validation.CheckRequired("token", r.Token, validation.MaxTokenLength)
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

func (r *extendRequest) Validate() error {
	if r.Minutes < 0 || r.Minutes > maxExtendMinutes {
		return dErrors.New(dErrors.CodeValidation, "minutes must be between 0 and 480")
	}
	return nil
}

// machine returns the tab's machine. When ready is set it waits for the
// initial state to resolve.
func (h *Handler) machine(w http.ResponseWriter, r *http.Request, ready bool) (*session.Machine, session.Key, bool) {
	ctx := r.Context()
	key, err := h.clientKey(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, key, false
	}
	m, err := h.machines.Get(ctx, key)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to resolve session machine",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return nil, key, false
	}
	if ready {
		select {
		case <-m.Ready():
		case <-ctx.Done():
			httputil.WriteError(w, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "session is still loading"))
			return nil, key, false
		}
	}
	return m, key, true
}

// snapshot serves the guard. A request without valid client ids has no
// session and is not given a machine.
func (h *Handler) snapshot(r *http.Request) (models.Snapshot, error) {
	key, ok := h.presentedKey(r)
	if !ok {
		return models.Snapshot{State: models.StateSignedOut}, nil
	}
	m, err := h.machines.Get(r.Context(), key)
	if err != nil {
		return models.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

func (h *Handler) state(m *session.Machine, key session.Key) StateResponse {
	snap := m.Snapshot()
	resp := StateResponse{
		Snapshot:  snap,
		StoreMode: h.health.Mode(),
		CanEnter:  h.gate.CanEnter(snap),
	}
	if snap.State == models.StatePendingToken {
		if left := h.limits.attemptsLeft(key.Tab); left >= 0 {
			resp.AttemptsRemaining = &left
		}
		resp.ResendAvailableIn = seconds(h.limits.resendWait(key.Tab))
	}
	return resp
}

// HandleState implements GET /admin/auth/state. It never waits for the
// initial resolution; a resolving machine reports Loading.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	m, key, ok := h.machine(w, r, false)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.state(m, key))
}

// HandleSignIn implements POST /admin/auth/signin.
//
// Input: { "code": "<popup authorization code>" } or { "cancelled": true }
// Output: the new state; redirectUrl is set when the client must navigate to the provider.
func (h *Handler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[signInRequest](w, r, h.logger, true)
	if !ok {
		return
	}
	m, key, ok := h.machine(w, r, true)
	if !ok {
		return
	}
	ctx := r.Context()

	res, err := m.BeginSignIn(ctx, identity.PopupResult{Code: req.Code, Cancelled: req.Cancelled})
	// A failed send leaves the tab in PendingToken; the notification carries the error.
	if err != nil && !dErrors.HasCode(err, dErrors.CodeEmailDelivery) {
		h.logger.InfoContext(ctx, "sign-in did not complete",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	if err == nil && res.RedirectURL == "" && !res.Cancelled {
		h.limits.sent(key.Tab)
	}
	resp := h.state(m, key)
	if res != nil {
		resp.RedirectURL = res.RedirectURL
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleCallback implements GET /admin/auth/callback, the provider's redirect
// target. The outcome is delivered through the state and notifications; the
// browser always lands on the login page.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	m, key, ok := h.machine(w, r, true)
	if !ok {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()
	cb := identity.RedirectCallback{Code: q.Get("code"), State: q.Get("state"), Error: q.Get("error")}
	if err := errors.Join(
		validation.CheckStringLength("code", cb.Code, validation.MaxAuthCodeLength),
		validation.CheckStringLength("state", cb.State, validation.MaxStateLength),
	); err != nil {
		h.logger.WarnContext(ctx, "rejected oversized redirect callback", "request_id", request.GetRequestID(ctx))
		http.Redirect(w, r, h.loginPageURL, http.StatusFound)
		return
	}

	if err := m.Resume(ctx, cb); err != nil {
		h.logger.InfoContext(ctx, "redirect sign-in did not complete",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	} else if !cb.Empty() && m.Snapshot().State == models.StatePendingToken {
		h.limits.sent(key.Tab)
	}
	http.Redirect(w, r, h.loginPageURL, http.StatusFound)
}

// HandleVerify implements POST /admin/auth/verify.
//
// Input: { "token": "123456" }
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[verifyRequest](w, r, h.logger, false)
	if !ok {
		return
	}
	m, key, ok := h.machine(w, r, true)
	if !ok {
		return
	}
	ctx := r.Context()

	if h.limits.attemptsLeft(key.Tab) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeTokenLockout, "too many attempts; request a new code"))
		return
	}
	if err := m.Verify(ctx, req.Token); err != nil {
		if dErrors.IsRecoverableByResend(err) {
			h.limits.failed(key.Tab)
		}
		h.logger.InfoContext(ctx, "admin token verification failed",
			"code", dErrors.CodeOf(err),
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	h.limits.reset(key.Tab)
	httputil.WriteJSON(w, http.StatusOK, h.state(m, key))
}

// HandleResend implements POST /admin/auth/resend. Answers 429 with
// Retry-After while the tab's cooldown runs.
func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	m, key, ok := h.machine(w, r, true)
	if !ok {
		return
	}
	if wait := h.limits.resendWait(key.Tab); wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds(wait)))
		httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
			Error:       "resend_cooldown",
			Description: "please wait before requesting another code",
		})
		return
	}
	if err := m.Resend(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.limits.sent(key.Tab)
	httputil.WriteJSON(w, http.StatusOK, h.state(m, key))
}

// HandleLogout implements POST /admin/auth/logout.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	m, key, ok := h.machine(w, r, true)
	if !ok {
		return
	}
	h.limits.reset(key.Tab)
	if err := m.Logout(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.state(m, key))
}

// HandleExtend implements POST /admin/auth/extend.
//
// Input: { "minutes": 30 }; zero extends by the configured session timeout.
func (h *Handler) HandleExtend(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeAndPrepare[extendRequest](w, r, h.logger, true)
	if !ok {
		return
	}
	m, key, ok := h.machine(w, r, true)
	if !ok {
		return
	}
	if err := m.ExtendSession(r.Context(), time.Duration(req.Minutes)*time.Minute); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.state(m, key))
}

// HandleNotifications implements GET /admin/auth/notifications. Each
// notification is delivered once.
func (h *Handler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	m, _, ok := h.machine(w, r, false)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]notify.Notification{
		"notifications": m.Notifications().Drain(),
	})
}

// HandleConnectivity implements GET /admin/connectivity.
func (h *Handler) HandleConnectivity(w http.ResponseWriter, r *http.Request) {
	res, err := h.detector.DetectBlockingExtensions(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		*resilient.BlockingResult
		StoreMode string `json:"storeMode"`
	}{res, h.health.Mode()})
}

// HandleMe implements GET /admin/me behind the guard.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	admin := guard.Admin(r.Context())
	if admin == nil {
		// Dev bypass without a session.
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"admin": nil, "bypass": true})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"admin": admin})
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
