// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web serves the sign-in, sign-up and sign-out pages over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/holomush/portal/internal/auth"
	"github.com/holomush/portal/internal/observability"
	"github.com/holomush/portal/pkg/errutil"
)

// Fixed paths.
const (
	PathHome          = "/"
	PathSignIn        = "/signin"
	PathSignUp        = "/signup"
	PathSignOut       = "/signout"
	PathAuthenticated = "/authenticated"
)

// UserIDHeader carries the account id on successful sign-in and sign-up.
const UserIDHeader = "X-User-ID"

// DefaultCookieName names the session cookie when none is configured.
const DefaultCookieName = "portal_session"

const (
	maxFormBytes = 64 << 10
	genericError = "something went wrong, please try again"
)

// Authenticator is the part of auth.Service the web layer uses.
type Authenticator interface {
	SignIn(ctx context.Context, req auth.SignInRequest) (*auth.Result, error)
	SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.Result, error)
	SignOut(ctx context.Context, session *auth.Session) error
	Authenticate(ctx context.Context, token string) (*auth.Session, error)
	Account(ctx context.Context, session *auth.Session) (*auth.Account, error)
}

// Options configures NewHandler.
type Options struct {
	CookieName   string
	CookieSecure bool
	// Fallback is where the guard sends anonymous page loads.
	Fallback string
	Logger   *slog.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
}

type handler struct {
	auth    Authenticator
	guard   auth.Guard
	views   *views
	cookies cookieJar
	logger  *slog.Logger
}

// NewHandler builds the portal HTTP handler with its middleware chain.
func NewHandler(authenticator Authenticator, opts Options) (http.Handler, error) {
	if authenticator == nil {
		return nil, oops.Code("WEB_HANDLER_INVALID").Errorf("authenticator is required")
	}
	v, err := loadViews()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.CookieName
	if name == "" {
		name = DefaultCookieName
	}

	h := &handler{
		auth:    authenticator,
		guard:   auth.NewGuard(opts.Fallback),
		views:   v,
		cookies: cookieJar{name: name, secure: opts.CookieSecure},
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.home)
	mux.HandleFunc("GET "+PathSignIn, h.signInForm)
	mux.HandleFunc("POST "+PathSignIn, h.signIn)
	mux.HandleFunc("GET "+PathSignUp, h.signUpForm)
	mux.HandleFunc("POST "+PathSignUp, h.signUp)
	mux.HandleFunc("GET "+PathSignOut, h.requireSession(h.signOut))
	mux.HandleFunc("GET "+PathAuthenticated, h.requireSession(h.authenticated))

	chain := h.loadSession(capturePattern(mux))
	chain = instrument(logger, opts.Metrics, chain)
	chain = requestID(chain)
	return otelhttp.NewHandler(chain, "portal.http"), nil
}

func (h *handler) home(w http.ResponseWriter, r *http.Request) {
	data, ok := h.pageFor(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, pageHome, data)
}

func (h *handler) signInForm(w http.ResponseWriter, r *http.Request) {
	if SessionFromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, PathAuthenticated, http.StatusFound)
		return
	}
	h.render(w, r, http.StatusOK, pageSignIn, pageData{})
}

func (h *handler) signUpForm(w http.ResponseWriter, r *http.Request) {
	if SessionFromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, PathHome, http.StatusFound)
		return
	}
	h.render(w, r, http.StatusOK, pageSignUp, pageData{})
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	form := formValues{
		Username:   strings.TrimSpace(r.PostFormValue("username")),
		RememberMe: checked(r.PostFormValue("rememberMe")),
	}

	result, err := h.auth.SignIn(r.Context(), auth.SignInRequest{
		Username:   form.Username,
		Password:   r.PostFormValue("password"),
		RememberMe: form.RememberMe,
		Current:    SessionFromContext(r.Context()),
	})
	if err != nil {
		h.formError(w, r, pageSignIn, form, "sign in failed", err)
		return
	}
	h.completeSignIn(w, r, result)
}

func (h *handler) signUp(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	form := formValues{
		Username:  strings.TrimSpace(r.PostFormValue("username")),
		FirstName: strings.TrimSpace(r.PostFormValue("firstname")),
		LastName:  strings.TrimSpace(r.PostFormValue("lastname")),
		Avatar:    strings.TrimSpace(r.PostFormValue("avatar")),
	}

	result, err := h.auth.SignUp(r.Context(), auth.SignUpRequest{
		Username:             form.Username,
		FirstName:            form.FirstName,
		LastName:             form.LastName,
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password2"),
		Avatar:               form.Avatar,
		AcceptedTerms:        checked(r.PostFormValue("acceptTos")),
		Current:              SessionFromContext(r.Context()),
	})
	if err != nil {
		h.formError(w, r, pageSignUp, form, "sign up failed", err)
		return
	}
	h.completeSignIn(w, r, result)
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), SessionFromContext(r.Context())); err != nil {
		h.serverError(w, r, "sign out failed", err)
		return
	}
	h.cookies.clear(w)
	http.Redirect(w, r, PathHome, http.StatusSeeOther)
}

func (h *handler) authenticated(w http.ResponseWriter, r *http.Request) {
	data, ok := h.pageFor(w, r)
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, pageAuthenticated, data)
}

// completeSignIn hands the new session to the client and redirects to the
// landing page.
func (h *handler) completeSignIn(w http.ResponseWriter, r *http.Request, result *auth.Result) {
	h.cookies.set(w, result.Token, result.Session)
	w.Header().Set(UserIDHeader, result.Account.ID.String())
	http.Redirect(w, r, PathAuthenticated, http.StatusSeeOther)
}

// formError re-renders page with the user-facing message for validation
// failures (400) or a generic message for everything else (500).
func (h *handler) formError(w http.ResponseWriter, r *http.Request, page string, form formValues, msg string, err error) {
	if auth.IsValidationError(err) {
		h.logger.InfoContext(r.Context(), msg, "code", errutil.Code(err), "username", form.Username)
		h.render(w, r, http.StatusBadRequest, page, pageData{Error: oops.GetPublic(err, err.Error()), Form: form})
		return
	}
	errutil.LogErrorContext(r.Context(), h.logger, msg, err)
	h.render(w, r, http.StatusInternalServerError, page, pageData{Error: genericError, Form: form})
}

// pageFor loads the signed-in account, if any, for a page render.
func (h *handler) pageFor(w http.ResponseWriter, r *http.Request) (pageData, bool) {
	session := SessionFromContext(r.Context())
	if !session.IsAuthenticated() {
		return pageData{}, true
	}
	account, err := h.auth.Account(r.Context(), session)
	if err != nil {
		h.serverError(w, r, "account lookup failed", err)
		return pageData{}, false
	}
	return pageData{Account: account}, true
}

func (h *handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.InfoContext(r.Context(), "malformed form", "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	if err := h.views.render(w, status, page, data); err != nil {
		errutil.LogErrorContext(r.Context(), h.logger, "render failed", err)
	}
}

// checked reports whether a checkbox value means "on".
func checked(v string) bool {
	if v == "on" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// cookieJar writes the session cookie. Persistent sessions get an expiry
// matching the session; all others are browser-session cookies.
type cookieJar struct {
	name   string
	secure bool
}

func (c cookieJar) set(w http.ResponseWriter, token string, session *auth.Session) {
	cookie := &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if session.Persistent {
		cookie.Expires = session.ExpiresAt.UTC()
		if ttl := time.Until(session.ExpiresAt); ttl > time.Second {
			cookie.MaxAge = int(ttl.Seconds())
		}
	}
	http.SetCookie(w, cookie)
}

func (c cookieJar) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
