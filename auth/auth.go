// Package auth signs users in with email and password and issues JWT
// sessions for the admin tool.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phbpx/leadadmin"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrWeakPassword = errors.New("password must be at least 6 characters")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// Purposes of the one-off tokens handed to a Courier.
const (
	PurposeConfirm = "confirm"
	PurposeReset   = "reset"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
}

type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByEmail(ctx context.Context, email string) (User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Confirm(ctx context.Context, id string, at time.Time) error
}

// Courier hands a confirmation or password reset token to the user it was
// issued for.
type Courier func(ctx context.Context, email, purpose, token string) error

type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// ConfirmTTL and ResetTTL bound the one-off tokens sent by Courier.
	ConfirmTTL time.Duration
	ResetTTL   time.Duration
	BcryptCost int
	Courier    Courier
}

type claims struct {
	Email     string `json:"email"`
	Kind      string `json:"kind"`
	SessionID string `json:"sid,omitempty"`
	// PasswordVersion ties a reset token to the password it replaces, so the
	// token stops working once it has been used.
	PasswordVersion string `json:"pwv,omitempty"`
	jwt.RegisteredClaims
}

var _ leadadmin.Identity = (*Authenticator)(nil)

// Authenticator implements leadadmin.Identity on top of a UserStore.
type Authenticator struct {
	users UserStore
	cfg   Config
	now   func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
	subs    map[int]func(*leadadmin.Session)
	nextSub int
}

func New(users UserStore, cfg Config) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "leadadmin"
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.ConfirmTTL <= 0 {
		cfg.ConfirmTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	if cfg.Courier == nil {
		cfg.Courier = func(context.Context, string, string, string) error {
			return errors.New("auth: no courier configured")
		}
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	return &Authenticator{
		users:   users,
		cfg:     cfg,
		now:     time.Now,
		revoked: make(map[string]time.Time),
		subs:    make(map[int]func(*leadadmin.Session)),
	}, nil
}

func (a *Authenticator) SignIn(ctx context.Context, email, password string) (leadadmin.Session, error) {
	u, err := a.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return leadadmin.Session{}, leadadmin.ErrInvalidCredentials
		}
		return leadadmin.Session{}, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return leadadmin.Session{}, leadadmin.ErrInvalidCredentials
	}
	if u.ConfirmedAt == nil {
		return leadadmin.Session{}, leadadmin.ErrEmailUnconfirmed
	}

	s, err := a.issue(u.ID, u.Email, uuid.NewString())
	if err != nil {
		return leadadmin.Session{}, err
	}

	a.notify(&s)
	return s, nil
}

// SignOut revokes the session the access token belongs to, including its
// refresh token. Signing out with an unusable token is a no-op.
func (a *Authenticator) SignOut(ctx context.Context, accessToken string) error {
	c, err := a.parse(accessToken, kindAccess)
	if err != nil {
		return nil
	}

	a.mu.Lock()
	a.revoked[c.SessionID] = a.now().Add(a.cfg.RefreshTTL)
	a.pruneLocked()
	a.mu.Unlock()

	a.notify(nil)
	return nil
}

func (a *Authenticator) Session(ctx context.Context, accessToken string) (leadadmin.Session, error) {
	c, err := a.parse(accessToken, kindAccess)
	if err != nil {
		return leadadmin.Session{}, err
	}

	return leadadmin.Session{
		UserID:      c.Subject,
		Email:       c.Email,
		AccessToken: accessToken,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}

// Refresh trades a refresh token for a new token pair of the same session.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (leadadmin.Session, error) {
	c, err := a.parse(refreshToken, kindRefresh)
	if err != nil {
		return leadadmin.Session{}, err
	}

	s, err := a.issue(c.Subject, c.Email, c.SessionID)
	if err != nil {
		return leadadmin.Session{}, err
	}

	a.notify(&s)
	return s, nil
}

func (a *Authenticator) SignUp(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return User{}, ErrInvalidEmail
	}
	if len(password) < 6 {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cfg.BcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    a.now().UTC(),
	}
	if err := a.users.Create(ctx, u); err != nil {
		return User{}, err
	}

	if err := a.send(ctx, u, PurposeConfirm, a.cfg.ConfirmTTL, ""); err != nil {
		return u, err
	}
	return u, nil
}

// ConfirmEmail marks the user the confirmation token was issued for as
// confirmed, so they can sign in.
func (a *Authenticator) ConfirmEmail(ctx context.Context, token string) error {
	u, _, err := a.redeem(ctx, token, PurposeConfirm)
	if err != nil {
		return err
	}
	if u.ConfirmedAt != nil {
		return nil
	}
	return a.users.Confirm(ctx, u.ID, a.now().UTC())
}

// RequestPasswordReset sends a reset token to email. Unknown addresses are
// ignored so callers cannot probe which accounts exist.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := a.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	return a.send(ctx, u, PurposeReset, a.cfg.ResetTTL, passwordVersion(u.PasswordHash))
}

// ResetPassword replaces the password of the user the reset token was issued
// for. A token is good for one reset only. Resetting also confirms the
// email, since the token could only have been read from that inbox.
func (a *Authenticator) ResetPassword(ctx context.Context, token, password string) error {
	if len(password) < 6 {
		return ErrWeakPassword
	}

	u, c, err := a.redeem(ctx, token, PurposeReset)
	if err != nil {
		return err
	}
	if c.PasswordVersion != passwordVersion(u.PasswordHash) {
		return fmt.Errorf("%w: already used", ErrInvalidToken)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := a.users.UpdatePassword(ctx, u.ID, string(hash)); err != nil {
		return err
	}
	if u.ConfirmedAt == nil {
		return a.users.Confirm(ctx, u.ID, a.now().UTC())
	}
	return nil
}

func (a *Authenticator) send(ctx context.Context, u User, purpose string, ttl time.Duration, pwv string) error {
	now := a.now()
	c := claims{
		Email:           u.Email,
		Kind:            purpose,
		PasswordVersion: pwv,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    a.cfg.Issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := a.signClaims(c)
	if err != nil {
		return err
	}
	if err := a.cfg.Courier(ctx, u.Email, purpose, token); err != nil {
		return fmt.Errorf("sending %s token: %w", purpose, err)
	}
	return nil
}

// redeem checks a one-off token and loads the user it belongs to.
func (a *Authenticator) redeem(ctx context.Context, token, purpose string) (User, *claims, error) {
	c, err := a.parse(token, purpose)
	if err != nil {
		return User{}, nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	u, err := a.users.GetByEmail(ctx, c.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, nil, ErrInvalidToken
		}
		return User{}, nil, fmt.Errorf("looking up user: %w", err)
	}
	if u.ID != c.Subject {
		return User{}, nil, ErrInvalidToken
	}
	return u, c, nil
}

// passwordVersion fingerprints a stored hash. bcrypt salts every hash, so
// any password change yields a new version.
func passwordVersion(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[len(hash)-12:]
}

// EnsureAdmin makes sure a confirmed user with the given credentials exists.
// An existing user gets its password reset to the configured one and is
// confirmed if it was not yet.
func (a *Authenticator) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	u, err := a.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			if err := a.users.UpdatePassword(ctx, u.ID, string(hash)); err != nil {
				return err
			}
		}
		if u.ConfirmedAt == nil {
			return a.users.Confirm(ctx, u.ID, a.now().UTC())
		}
		return nil
	case errors.Is(err, ErrUserNotFound):
	default:
		return fmt.Errorf("looking up admin: %w", err)
	}

	now := a.now().UTC()
	return a.users.Create(ctx, User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		ConfirmedAt:  &now,
		CreatedAt:    now,
	})
}

// OnSessionChange registers fn to be called with the new session after every
// sign in and refresh, and with nil after a sign out.
func (a *Authenticator) OnSessionChange(fn func(*leadadmin.Session)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}

func (a *Authenticator) notify(s *leadadmin.Session) {
	a.mu.Lock()
	fns := make([]func(*leadadmin.Session), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (a *Authenticator) issue(userID, email, sessionID string) (leadadmin.Session, error) {
	now := a.now()
	accessExp := now.Add(a.cfg.AccessTTL)

	access, err := a.sign(userID, email, sessionID, kindAccess, now, accessExp)
	if err != nil {
		return leadadmin.Session{}, err
	}
	refresh, err := a.sign(userID, email, sessionID, kindRefresh, now, now.Add(a.cfg.RefreshTTL))
	if err != nil {
		return leadadmin.Session{}, err
	}

	return leadadmin.Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
	}, nil
}

func (a *Authenticator) sign(userID, email, sessionID, kind string, now, exp time.Time) (string, error) {
	return a.signClaims(claims{
		Email:     email,
		Kind:      kind,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    a.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
}

func (a *Authenticator) signClaims(c claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", c.Kind, err)
	}
	return token, nil
}

func (a *Authenticator) parse(token, kind string) (*claims, error) {
	if token == "" {
		return nil, leadadmin.ErrStaleSession
	}

	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c,
		func(*jwt.Token) (interface{}, error) { return []byte(a.cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", leadadmin.ErrStaleSession, err)
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token", leadadmin.ErrStaleSession, kind)
	}

	if c.SessionID == "" {
		return c, nil
	}

	a.mu.Lock()
	_, revoked := a.revoked[c.SessionID]
	a.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("%w: signed out", leadadmin.ErrStaleSession)
	}

	return c, nil
}

func (a *Authenticator) pruneLocked() {
	now := a.now()
	for sid, until := range a.revoked {
		if now.After(until) {
			delete(a.revoked, sid)
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
