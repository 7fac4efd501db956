// Package session owns the single process-wide authentication session:
// token persistence, bearer injection into the shared HTTP client, the
// two-step login flow, and 401-triggered recovery.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/EstebanCanales/novack-edge/internal/apiclient"
	"github.com/EstebanCanales/novack-edge/internal/logger"
)

// LoginRoute is where the 401 recovery redirects.
const LoginRoute = "/login"

var (
	ErrInvalidOTP     = errors.New("otp must be exactly 6 numeric digits")
	ErrNoOTPChallenge = errors.New("no pending otp challenge")
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrNoUserProfile  = errors.New("login response carried no user profile")
)

// UserProfile is the immutable snapshot received at login. The session
// layer never interprets it beyond passing it through.
type UserProfile struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	IsCreator bool      `json:"is_creator"`
	Supplier  *Supplier `json:"supplier,omitempty"`
}

// Supplier is the institution a user belongs to
type Supplier struct {
	ID           string `json:"id"`
	SupplierName string `json:"supplier_name"`
}

// Tokens is the credential pair issued by the backend
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// LoginResult reports the outcome of a credential submission: either
// an established session or a pending SMS OTP challenge.
type LoginResult struct {
	OTPRequired bool
	User        *UserProfile
}

// Navigator abstracts the client-side navigation performed on logout
// and 401 recovery.
type Navigator interface {
	// Current returns the current route.
	Current() string
	// To navigates to the given route.
	To(route string)
}

// RouteTracker is the default in-memory Navigator.
type RouteTracker struct {
	mu    sync.Mutex
	route string
}

// NewRouteTracker creates a RouteTracker starting at route
func NewRouteTracker(route string) *RouteTracker {
	return &RouteTracker{route: route}
}

// Current returns the current route
func (r *RouteTracker) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.route
}

// To navigates to the given route
func (r *RouteTracker) To(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.route = route
}

// Manager maintains the authentication session. All mutation goes
// through Load, Login, VerifyOTP, Establish, Logout and Refresh; UI
// code never touches the store or the bearer header directly.
type Manager struct {
	mu        sync.Mutex
	client    *apiclient.Client
	store     Store
	nav       Navigator
	log       *logger.Logger
	user      *UserProfile
	otpUserID string
}

// NewManager wires a Manager to the shared client, the durable store
// and a navigator, and registers the 401 recovery hook.
func NewManager(client *apiclient.Client, store Store, nav Navigator, log *logger.Logger) *Manager {
	m := &Manager{
		client: client,
		store:  store,
		nav:    nav,
		log:    log,
	}
	client.OnUnauthorized(m.handleUnauthorized)
	return m
}

// Load rehydrates the session from durable storage at startup.
// Malformed persisted state is discarded and the manager starts
// unauthenticated; Load never fails because of it.
func (m *Manager) Load() {
	m.mu.Lock()
	defer m.mu.Unlock()

	accessToken, hasToken := m.store.Get(KeyAccessToken)
	rawUser, hasUser := m.store.Get(KeyUser)
	if !hasToken || !hasUser || accessToken == "" {
		return
	}

	user, err := decodeProfile(rawUser)
	if err != nil {
		m.log.Warn("Discarding corrupt persisted session", zap.Error(err))
		m.clearLocked()
		return
	}

	m.user = user
	m.client.SetToken(accessToken)
}

// Login submits credentials. When the backend demands an SMS OTP the
// session stays unestablished and the result reports OTPRequired.
func (m *Manager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp struct {
		AccessToken    string       `json:"access_token"`
		RefreshToken   string       `json:"refresh_token"`
		Employee       *UserProfile `json:"employee"`
		SMSOTPRequired bool         `json:"smsOtpRequired"`
		UserID         string       `json:"userId"`
	}

	err := m.client.PostJSON(ctx, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.SMSOTPRequired && resp.UserID != "" {
		m.mu.Lock()
		m.otpUserID = resp.UserID
		m.mu.Unlock()
		return &LoginResult{OTPRequired: true}, nil
	}

	if resp.Employee == nil {
		return nil, ErrNoUserProfile
	}

	m.Establish(Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, resp.Employee)
	return &LoginResult{User: resp.Employee}, nil
}

// VerifyOTP completes a pending SMS challenge. The code is checked
// locally for the 6-digit shape only to avoid a wasted round trip.
func (m *Manager) VerifyOTP(ctx context.Context, code string) (*LoginResult, error) {
	if !validOTP(code) {
		return nil, ErrInvalidOTP
	}

	m.mu.Lock()
	userID := m.otpUserID
	m.mu.Unlock()
	if userID == "" {
		return nil, ErrNoOTPChallenge
	}

	var resp struct {
		AccessToken  string       `json:"access_token"`
		RefreshToken string       `json:"refresh_token"`
		Employee     *UserProfile `json:"employee"`
	}

	err := m.client.PostJSON(ctx, "/auth/login/sms-verify", map[string]string{
		"userId": userID,
		"otp":    code,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Employee == nil {
		return nil, ErrNoUserProfile
	}

	m.Establish(Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, resp.Employee)

	m.mu.Lock()
	m.otpUserID = ""
	m.mu.Unlock()

	return &LoginResult{User: resp.Employee}, nil
}

// Establish persists the tokens and profile and attaches the bearer
// credential to the shared client.
func (m *Manager) Establish(tokens Tokens, user *UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.Set(KeyAccessToken, tokens.AccessToken)
	if tokens.RefreshToken != "" {
		m.store.Set(KeyRefreshToken, tokens.RefreshToken)
	}
	if raw, err := encodeProfile(user); err == nil {
		m.store.Set(KeyUser, raw)
	}

	m.user = user
	m.client.SetToken(tokens.AccessToken)
}

// Logout clears the session unconditionally, then notifies the backend
// best-effort without blocking on the result.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	refreshToken, _ := m.store.Get(KeyRefreshToken)
	m.clearLocked()
	m.mu.Unlock()

	if refreshToken == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := m.client.PostJSON(ctx, "/auth/logout", map[string]string{
			"refresh_token": refreshToken,
		}, nil)
		if err != nil {
			m.log.Warn("Best-effort logout notification failed", zap.Error(err))
		}
	}()
}

// Refresh exchanges the stored refresh token for a new access token.
// Any network or backend failure is terminal: the session is logged
// out and the error returned.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken, _ := m.store.Get(KeyRefreshToken)
	m.mu.Unlock()

	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}

	err := m.client.PostJSON(ctx, "/auth/refresh-token", map[string]string{
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil || resp.AccessToken == "" {
		m.log.Warn("Token refresh failed, logging out", zap.Error(err))
		m.Logout(ctx)
		if err == nil {
			err = errors.New("refresh response carried no access token")
		}
		return err
	}

	m.mu.Lock()
	m.store.Set(KeyAccessToken, resp.AccessToken)
	if resp.RefreshToken != "" {
		m.store.Set(KeyRefreshToken, resp.RefreshToken)
	}
	m.client.SetToken(resp.AccessToken)
	m.mu.Unlock()

	return nil
}

// Authenticated reports whether a session is established
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil
}

// User returns a copy of the current profile, nil when unauthenticated
func (m *Manager) User() *UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// ExpiresWithin reports whether the stored access token expires within
// d. The claim is read without signature verification; the edge never
// holds the backend's keys. Unreadable tokens count as expiring.
func (m *Manager) ExpiresWithin(d time.Duration) bool {
	m.mu.Lock()
	token, _ := m.store.Get(KeyAccessToken)
	m.mu.Unlock()
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Until(exp.Time) < d
}

// handleUnauthorized is the 401 recovery: clear the session and
// navigate to the login route unless already there. Clearing an
// already-cleared session is a no-op, so concurrent 401s are safe.
func (m *Manager) handleUnauthorized() {
	m.mu.Lock()
	wasAuthenticated := m.user != nil
	m.clearLocked()
	m.mu.Unlock()

	if wasAuthenticated {
		m.log.Info("Session expired, redirecting to login")
	}

	if !strings.Contains(m.nav.Current(), LoginRoute) {
		m.nav.To(LoginRoute)
	}
}

// clearLocked wipes storage, bearer header and in-memory state.
// Caller holds the lock.
func (m *Manager) clearLocked() {
	m.store.Delete(KeyAccessToken)
	m.store.Delete(KeyRefreshToken)
	m.store.Delete(KeyUser)
	m.client.ClearToken()
	m.user = nil
	m.otpUserID = ""
}

func validOTP(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func encodeProfile(user *UserProfile) (string, error) {
	raw, err := json.Marshal(user)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeProfile(raw string) (*UserProfile, error) {
	user := &UserProfile{}
	if err := json.Unmarshal([]byte(raw), user); err != nil {
		return nil, err
	}
	return user, nil
}
