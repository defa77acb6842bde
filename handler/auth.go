package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/phbpx/leadadmin"
	"github.com/phbpx/leadadmin/auth"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
)

type ctxKey int

const sessionKey ctxKey = 1

// SessionFrom returns the session RequireSession stored in ctx.
func SessionFrom(ctx context.Context) (leadadmin.Session, bool) {
	s, ok := ctx.Value(sessionKey).(leadadmin.Session)
	return s, ok
}

// RequireSession rejects requests without a live bearer session. The client
// is expected to send the user back to the login screen; nothing is retried.
func RequireSession(identity leadadmin.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			s, err := identity.Session(ctx, bearerToken(r))
			if err != nil {
				respondErr(ctx, rw, http.StatusUnauthorized, leadadmin.ErrStaleSession)
				return
			}

			next.ServeHTTP(rw, r.WithContext(context.WithValue(ctx, sessionKey, s)))
		})
	}
}

// Accounts manages admin accounts: sign up, email confirmation and password
// resets.
type Accounts interface {
	SignUp(ctx context.Context, email, password string) (auth.User, error)
	ConfirmEmail(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
}

type AuthHandler struct {
	identity leadadmin.Identity
	accounts Accounts
	log      *otelzap.SugaredLogger
}

func NewAuthHandler(identity leadadmin.Identity, accounts Accounts, log *otelzap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		identity: identity,
		accounts: accounts,
		log:      log,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (ah AuthHandler) Login(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cred credentials
	if err := decode(r, &cred); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, err)
		return
	}
	if cred.Email == "" || cred.Password == "" {
		respondErr(ctx, rw, http.StatusBadRequest, errors.New("email and password are required"))
		return
	}

	s, err := ah.identity.SignIn(ctx, cred.Email, cred.Password)
	if err != nil {
		ah.log.Ctx(ctx).Warnw("Login", "email", cred.Email, "error", err.Error())
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			respondErr(ctx, rw, status, errors.New("sign in failed, try again later"))
			return
		}
		respondErr(ctx, rw, status, err)
		return
	}

	respond(ctx, rw, http.StatusOK, s)
}

func (ah AuthHandler) Refresh(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, err)
		return
	}

	s, err := ah.identity.Refresh(ctx, body.RefreshToken)
	if err != nil {
		respondErr(ctx, rw, http.StatusUnauthorized, leadadmin.ErrStaleSession)
		return
	}

	respond(ctx, rw, http.StatusOK, s)
}

func (ah AuthHandler) Logout(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := ah.identity.SignOut(ctx, bearerToken(r)); err != nil {
		ah.log.Ctx(ctx).Errorw("Logout", "error", err.Error())
		respondErr(ctx, rw, http.StatusInternalServerError, err)
		return
	}

	respond(ctx, rw, http.StatusNoContent, nil)
}

func (ah AuthHandler) Session(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, ok := SessionFrom(ctx)
	if !ok {
		respondErr(ctx, rw, http.StatusUnauthorized, leadadmin.ErrStaleSession)
		return
	}

	respond(ctx, rw, http.StatusOK, s)
}

type signedUp struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignUp creates an unconfirmed account. The new user can sign in once the
// emailed confirmation token has been redeemed.
func (ah AuthHandler) SignUp(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cred credentials
	if err := decode(r, &cred); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, err)
		return
	}

	u, err := ah.accounts.SignUp(ctx, cred.Email, cred.Password)
	if err != nil {
		ah.log.Ctx(ctx).Warnw("SignUp", "email", cred.Email, "error", err.Error())
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			respondErr(ctx, rw, status, errors.New("sign up failed, try again later"))
			return
		}
		respondErr(ctx, rw, status, err)
		return
	}

	respond(ctx, rw, http.StatusCreated, signedUp{ID: u.ID, Email: u.Email})
}

func (ah AuthHandler) Confirm(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Token string `json:"token"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, err)
		return
	}

	if err := ah.accounts.ConfirmEmail(ctx, body.Token); err != nil {
		ah.log.Ctx(ctx).Warnw("Confirm", "error", err.Error())
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	respond(ctx, rw, http.StatusNoContent, nil)
}

// RequestReset always answers 202 so the response does not tell whether the
// address has an account.
func (ah AuthHandler) RequestReset(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Email string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, err)
		return
	}

	if err := ah.accounts.RequestPasswordReset(ctx, body.Email); err != nil {
		ah.log.Ctx(ctx).Errorw("RequestReset", "email", body.Email, "error", err.Error())
	}

	respond(ctx, rw, http.StatusAccepted, nil)
}

func (ah AuthHandler) Reset(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		respondErr(ctx, rw, http.StatusBadRequest, err)
		return
	}

	if err := ah.accounts.ResetPassword(ctx, body.Token, body.Password); err != nil {
		ah.log.Ctx(ctx).Warnw("Reset", "error", err.Error())
		respondErr(ctx, rw, statusFor(err), err)
		return
	}

	respond(ctx, rw, http.StatusNoContent, nil)
}
