// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/portal/internal/auth"
	authredis "github.com/holomush/portal/internal/auth/redis"
)

// memAccounts is an in-memory auth.AccountRepository.
type memAccounts struct {
	mu         sync.Mutex
	byUsername map[string]*auth.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byUsername: make(map[string]*auth.Account)}
}

func (m *memAccounts) Create(_ context.Context, account *auth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := account.Username
	if _, ok := m.byUsername[key]; ok {
		return oops.Code("ACCOUNT_USERNAME_TAKEN").Wrap(auth.ErrUsernameTaken)
	}
	stored := *account
	m.byUsername[key] = &stored
	return nil
}

func (m *memAccounts) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byUsername {
		if a.ID == id {
			found := *a
			return &found, nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (m *memAccounts) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byUsername[username]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	found := *a
	return &found, nil
}

// testEnv is a portal handler backed by in-memory accounts and a
// miniredis session store.
type testEnv struct {
	handler  http.Handler
	service  *auth.Service
	accounts *memAccounts
	sessions *authredis.SessionStore
	redis    *miniredis.Miniredis
	logs     *bytes.Buffer
	closeFn  func()
}

func newTestEnv(opts Options) (*testEnv, error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	accounts := newMemAccounts()
	sessions := authredis.NewSessionStore(rdb, "test")
	svc, err := auth.NewService(accounts, sessions, hasher, auth.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = logger
	}
	h, err := NewHandler(svc, opts)
	if err != nil {
		return nil, err
	}

	return &testEnv{
		handler:  h,
		service:  svc,
		accounts: accounts,
		sessions: sessions,
		redis:    mr,
		logs:     logs,
		closeFn: func() {
			_ = rdb.Close()
			mr.Close()
		},
	}, nil
}

func (e *testEnv) close() { e.closeFn() }

// do serves req and returns the recorded response.
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return e.do(req)
}

func (e *testEnv) post(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return e.do(req)
}

func signUpForm(username, password string) url.Values {
	return url.Values{
		"username":  {username},
		"firstname": {"Alice"},
		"lastname":  {"Liddell"},
		"password":  {password},
		"password2": {password},
		"avatar":    {"https://example.com/alice.png"},
		"acceptTos": {"on"},
	}
}

// sessionCookie returns the last Set-Cookie for name, which is what a
// browser ends up holding.
func sessionCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}
