// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/portal/internal/auth"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names.
const (
	pageHome          = "home"
	pageSignIn        = "signin"
	pageSignUp        = "signup"
	pageAuthenticated = "authenticated"
)

// formValues echoes non-secret form fields back into a re-rendered form.
type formValues struct {
	Username   string
	FirstName  string
	LastName   string
	Avatar     string
	RememberMe bool
}

// pageData is the data every page template receives.
type pageData struct {
	Account *auth.Account
	Error   string
	Form    formValues
}

type views struct {
	pages map[string]*template.Template
}

func loadViews() (*views, error) {
	v := &views{pages: make(map[string]*template.Template)}
	for _, name := range []string{pageHome, pageSignIn, pageSignUp, pageAuthenticated} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, oops.Code("WEB_TEMPLATE_INVALID").With("page", name).Wrap(err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// render executes page into a buffer and writes it with status. A template
// failure becomes a bare 500.
func (v *views) render(w http.ResponseWriter, status int, page string, data pageData) error {
	t, ok := v.pages[page]
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return oops.Code("WEB_TEMPLATE_MISSING").With("page", page).Errorf("unknown page")
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return oops.Code("WEB_RENDER_FAILED").With("page", page).Wrap(err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	w.Write(buf.Bytes())
	return nil
}
