// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

// browser is an HTTP client that keeps cookies and does not follow
// redirects, so each hop can be asserted.
type browser struct {
	client *http.Client
	base   string
}

func newBrowser(base string) *browser {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &browser{
		base: base,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) get(path string) (*http.Response, string) {
	resp, err := b.client.Get(b.base + path)
	Expect(err).NotTo(HaveOccurred())
	return b.read(resp)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	resp, err := b.client.PostForm(b.base+path, form)
	Expect(err).NotTo(HaveOccurred())
	return b.read(resp)
}

func (b *browser) read(resp *http.Response) (*http.Response, string) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, string(data)
}

var _ = Describe("Portal", func() {
	var (
		env    *testEnv
		server *httptest.Server
		alice  *browser
	)

	BeforeEach(func() {
		var err error
		env, err = newTestEnv(Options{})
		Expect(err).NotTo(HaveOccurred())
		server = httptest.NewServer(env.handler)
		alice = newBrowser(server.URL)
	})

	AfterEach(func() {
		server.Close()
		env.close()
	})

	Describe("signing up", func() {
		It("creates the account, authenticates and lands on the confirmation page", func() {
			resp, _ := alice.post(PathSignUp, signUpForm("alice", "p1"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal(PathAuthenticated))

			account, err := env.accounts.GetByUsername(context.Background(), "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Header.Get(UserIDHeader)).To(Equal(account.ID.String()))

			resp, page := alice.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(page).To(ContainSubstring("You are signed in as alice"))
		})

		It("rejects a second account with the same username and names it", func() {
			resp, _ := alice.post(PathSignUp, signUpForm("alice", "p1"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			other := newBrowser(server.URL)
			resp, page := other.post(PathSignUp, signUpForm("alice", "p1"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(page).To(ContainSubstring("alice: username already used"))

			resp, _ = other.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusFound), "the rejected visitor stays anonymous")
		})

		It("matches usernames exactly", func() {
			alice.post(PathSignUp, signUpForm("alice", "p1"))

			resp, _ := newBrowser(server.URL).post(PathSignUp, signUpForm("ALICE", "p2"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther), "a different spelling is a different account")

			resp, page := newBrowser(server.URL).post(PathSignIn, url.Values{"username": {"Alice"}, "password": {"p1"}})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(page).To(ContainSubstring("wrong username or password"))
		})

		It("accepts email addresses as usernames", func() {
			resp, _ := alice.post(PathSignUp, signUpForm("alice@example.com", "p1"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			resp, page := alice.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(page).To(ContainSubstring("alice@example.com"))
		})
	})

	Describe("signing in and out", func() {
		BeforeEach(func() {
			resp, _ := newBrowser(server.URL).post(PathSignUp, signUpForm("alice", "p1"))
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		})

		It("walks through the full session lifecycle", func() {
			By("being redirected away from guarded pages while anonymous")
			resp, _ := alice.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(resp.Header.Get("Location")).To(Equal(PathHome))

			By("signing in")
			resp, _ = alice.post(PathSignIn, url.Values{"username": {"alice"}, "password": {"p1"}})
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal(PathAuthenticated))

			By("reaching the landing page")
			resp, _ = alice.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			By("being bounced from the sign-in form")
			resp, _ = alice.get(PathSignIn)
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(resp.Header.Get("Location")).To(Equal(PathAuthenticated))

			By("signing out")
			resp, _ = alice.get(PathSignOut)
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
			Expect(resp.Header.Get("Location")).To(Equal(PathHome))

			By("being anonymous again")
			resp, _ = alice.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			resp, _ = alice.get(PathSignIn)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("does not reveal whether the username or the password was wrong", func() {
			wrongPassword, page1 := alice.post(PathSignIn, url.Values{"username": {"alice"}, "password": {"nope"}})
			unknownUser, page2 := alice.post(PathSignIn, url.Values{"username": {"nobody"}, "password": {"p1"}})

			Expect(wrongPassword.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(unknownUser.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(page1).To(ContainSubstring("wrong username or password"))
			Expect(page2).To(ContainSubstring("wrong username or password"))
		})

		It("keeps remember-me sessions in Redis for the longer lifetime", func() {
			resp, _ := alice.post(PathSignIn, url.Values{"username": {"alice"}, "password": {"p1"}, "rememberMe": {"on"}})
			Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))

			var cookie *http.Cookie
			for _, c := range resp.Cookies() {
				if c.Name == DefaultCookieName {
					cookie = c
				}
			}
			Expect(cookie).NotTo(BeNil())
			Expect(cookie.Expires.IsZero()).To(BeFalse())

			By("outliving an ordinary session")
			env.redis.FastForward(48 * time.Hour)
			resp, _ = alice.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("expires ordinary sessions with the store", func() {
			alice.post(PathSignIn, url.Values{"username": {"alice"}, "password": {"p1"}})

			env.redis.FastForward(25 * time.Hour)
			resp, _ := alice.get(PathAuthenticated)
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
		})
	})
})
