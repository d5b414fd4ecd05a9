// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/portal/internal/observability"
)

var tracer = otel.Tracer("portal/auth")

// Sign-in and sign-up outcome labels recorded in metrics.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomePasswordMismatch   = "password_mismatch"
	OutcomeTermsNotAccepted   = "terms_not_accepted"
	OutcomeInvalidUsername    = "invalid_username"
	OutcomeInvalidPassword    = "invalid_password"
	OutcomeUsernameTaken      = "username_taken"
	OutcomeError              = "error"
)

// SignInRequest carries submitted sign-in credentials. Current is the
// caller's session before the request, anonymous or authenticated.
type SignInRequest struct {
	Username   string
	Password   string
	RememberMe bool
	Current    *Session
}

// SignUpRequest carries a submitted registration form.
type SignUpRequest struct {
	Username             string
	FirstName            string
	LastName             string
	Password             string
	PasswordConfirmation string
	Avatar               string
	AcceptedTerms        bool
	Current              *Session
}

// Result is returned by a successful sign-in or sign-up. Token is the
// plaintext session token for the client and is never stored.
type Result struct {
	Account *Account
	Session *Session
	Token   string
}

// Service provides session-based authentication operations.
type Service struct {
	accounts    AccountRepository
	sessions    SessionStore
	hasher      PasswordHasher
	logger      *slog.Logger
	sessionTTL  time.Duration
	rememberTTL time.Duration
	now         func() time.Time
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionTTL sets the server-side lifetime of sessions created without
// remember-me.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.sessionTTL = ttl
	}
}

// WithRememberTTL sets the lifetime of remember-me sessions.
func WithRememberTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.rememberTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new Service.
// Returns an error if any dependency is nil or a TTL is not positive.
func NewService(accounts AccountRepository, sessions SessionStore, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}

	s := &Service{
		accounts:    accounts,
		sessions:    sessions,
		hasher:      hasher,
		logger:      slog.Default(),
		sessionTTL:  DefaultSessionTTL,
		rememberTTL: RememberMeTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sessionTTL <= 0 || s.rememberTTL <= 0 {
		return nil, oops.Code("AUTH_SERVICE_INVALID").
			With("session_ttl", s.sessionTTL).
			With("remember_ttl", s.rememberTTL).
			Errorf("session lifetimes must be positive")
	}
	return s, nil
}

// SignIn verifies credentials and promotes the caller to an authenticated
// session. An unknown username and a wrong password both fail with
// ErrInvalidCredentials after one password comparison.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "auth.signin",
		trace.WithAttributes(attribute.Bool("auth.remember_me", req.RememberMe)),
	)
	defer func() {
		endSpan(span, err)
		observability.RecordSignIn(signInOutcome(err))
	}()

	account, err := s.accounts.GetByUsername(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_SIGNIN_FAILED").
				With("operation", "get account by username").
				Wrap(err)
		}
		// Malformed hash: the hasher still performs a full comparison.
		_ = s.hasher.Verify(req.Password, "")
		return nil, invalidCredentials()
	}

	if !s.hasher.Verify(req.Password, account.PasswordHash) {
		return nil, invalidCredentials()
	}

	ttl := s.sessionTTL
	if req.RememberMe {
		ttl = s.rememberTTL
	}
	return s.promote(ctx, req.Current, account, req.RememberMe, ttl)
}

// SignUp creates an account and promotes the caller to a session bound to
// it. Validation failures happen before any store access. A duplicate
// username, whether found by lookup or rejected by the store, fails with
// ErrUsernameTaken and a message naming the username.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "auth.signup")
	defer func() {
		endSpan(span, err)
		observability.RecordSignUp(signUpOutcome(err))
	}()

	if req.Password != req.PasswordConfirmation {
		return nil, oops.Code("AUTH_PASSWORD_MISMATCH").
			Public(ErrPasswordMismatch.Error()).
			Wrap(ErrPasswordMismatch)
	}
	if !req.AcceptedTerms {
		return nil, oops.Code("AUTH_TERMS_NOT_ACCEPTED").
			Public(ErrTermsNotAccepted.Error()).
			Wrap(ErrTermsNotAccepted)
	}
	if err = ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, oops.Code("AUTH_EMPTY_PASSWORD").
			Public(ErrEmptyPassword.Error()).
			Wrap(ErrEmptyPassword)
	}

	_, err = s.accounts.GetByUsername(ctx, req.Username)
	switch {
	case err == nil:
		return nil, usernameTaken(req.Username)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if IsValidationError(err) {
			return nil, err
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(req.Username, req.FirstName, req.LastName, hash, req.Avatar)
	if err != nil {
		return nil, err
	}

	if err = s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, usernameTaken(req.Username)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create account").
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "account created",
		"account_id", account.ID.String(),
		"username", account.Username)

	return s.promote(ctx, req.Current, account, false, s.sessionTTL)
}

// SignOut deletes the stored session so its token can never be reused.
// Anonymous sessions have nothing stored and are ignored.
func (s *Service) SignOut(ctx context.Context, session *Session) (err error) {
	ctx, span := tracer.Start(ctx, "auth.signout")
	defer func() { endSpan(span, err) }()

	if session == nil || session.TokenHash == "" {
		return nil
	}
	if err = s.sessions.Delete(ctx, session.TokenHash); err != nil {
		return oops.Code("AUTH_SIGNOUT_FAILED").
			With("operation", "delete session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "session destroyed", "session_id", session.ID.String())
	return nil
}

// Authenticate resolves a client token to its stored session. An empty,
// unknown or expired token yields a fresh anonymous session; expired
// entries are deleted. Only store failures are returned as errors.
func (s *Service) Authenticate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return NewAnonymousSession(), nil
	}

	tokenHash := HashSessionToken(token)
	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewAnonymousSession(), nil
		}
		return nil, oops.Code("SESSION_LOOKUP_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	if session.IsExpiredAt(s.now()) {
		if err := s.sessions.Delete(ctx, tokenHash); err != nil {
			return nil, oops.Code("SESSION_LOOKUP_FAILED").
				With("operation", "delete expired session").
				With("session_id", session.ID.String()).
				Wrap(err)
		}
		s.logger.DebugContext(ctx, "expired session removed", "session_id", session.ID.String())
		return NewAnonymousSession(), nil
	}

	return session, nil
}

// Account returns the account bound to session.
func (s *Service) Account(ctx context.Context, session *Session) (*Account, error) {
	if !session.IsAuthenticated() {
		return nil, oops.Code("AUTH_UNAUTHORIZED").Wrap(ErrUnauthorized)
	}
	account, err := s.accounts.GetByID(ctx, *session.AccountID)
	if err != nil {
		return nil, oops.Code("AUTH_ACCOUNT_LOOKUP_FAILED").
			With("account_id", session.AccountID.String()).
			Wrap(err)
	}
	return account, nil
}

// promote issues a fresh token and session for account. An authenticated
// current session is replaced: its stored entry is deleted first.
func (s *Service) promote(ctx context.Context, current *Session, account *Account, persistent bool, ttl time.Duration) (*Result, error) {
	if current.IsAuthenticated() && current.TokenHash != "" {
		if err := s.sessions.Delete(ctx, current.TokenHash); err != nil {
			return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
				With("operation", "delete replaced session").
				With("session_id", current.ID.String()).
				Wrap(err)
		}
		s.logger.InfoContext(ctx, "replacing authenticated session",
			"session_id", current.ID.String(),
			"previous_account_id", current.AccountID.String())
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewAuthenticatedSession(account.ID, tokenHash, persistent, s.now().Add(ttl))
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "build session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "session authenticated",
		"account_id", account.ID.String(),
		"session_id", session.ID.String(),
		"persistent", persistent)

	return &Result{Account: account, Session: session, Token: token}, nil
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").
		Public(ErrInvalidCredentials.Error()).
		Wrap(ErrInvalidCredentials)
}

func usernameTaken(username string) error {
	msg := fmt.Sprintf("%s: %s", username, ErrUsernameTaken)
	return oops.Code("AUTH_USERNAME_TAKEN").
		With("username", username).
		Public(msg).
		Wrapf(ErrUsernameTaken, "%s", username)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func signInOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrInvalidCredentials):
		return OutcomeInvalidCredentials
	default:
		return OutcomeError
	}
}

func signUpOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrPasswordMismatch):
		return OutcomePasswordMismatch
	case errors.Is(err, ErrTermsNotAccepted):
		return OutcomeTermsNotAccepted
	case errors.Is(err, ErrInvalidUsername):
		return OutcomeInvalidUsername
	case errors.Is(err, ErrEmptyPassword), errors.Is(err, ErrPasswordTooLong):
		return OutcomeInvalidPassword
	case errors.Is(err, ErrUsernameTaken):
		return OutcomeUsernameTaken
	default:
		return OutcomeError
	}
}
