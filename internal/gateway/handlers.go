package gateway

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/florianilch/tokenshell/internal/authapi"
	"github.com/florianilch/tokenshell/internal/guard"
)

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<form method="post" action="/login">
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<input type="hidden" name="next" value="{{.Next}}">
<label>Email <input type="email" name="email" value="{{.Email}}" required autofocus></label>
<label>Password <input type="password" name="password" required></label>
<button type="submit">Sign in</button>
</form>
</body></html>
`))

type loginPageData struct {
	Email string
	Next  string
	Error string
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next,omitempty"`
}

func (g *Gateway) showLogin(w http.ResponseWriter, r *http.Request) {
	next := guard.SafeNext(r.URL.Query().Get("next"), "/")
	if g.session.IsAuthenticated(r.Context()) {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	g.renderLogin(w, r, loginPageData{Next: next}, http.StatusOK)
}

func (g *Gateway) renderLogin(w http.ResponseWriter, r *http.Request, data loginPageData, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPage.Execute(w, data); err != nil {
		slog.ErrorContext(r.Context(), "render login page", "error", err)
	}
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	isJSON := isJSONRequest(r)

	var req loginRequest
	if isJSON {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		req = loginRequest{
			Email:    r.PostForm.Get("email"),
			Password: r.PostForm.Get("password"),
			Next:     r.PostForm.Get("next"),
		}
	}
	next := guard.SafeNext(req.Next, "/")

	user, err := g.session.Login(ctx, req.Email, req.Password)
	if err != nil {
		status, message := loginErrorStatus(err)
		if isJSON {
			writeJSONError(ctx, w, message, status)
			return
		}
		g.renderLogin(w, r, loginPageData{Email: req.Email, Next: next, Error: message}, status)
		return
	}

	if isJSON {
		writeJSON(ctx, w, map[string]any{"user": user}, http.StatusOK)
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// loginErrorStatus classifies a login failure for the client.
func loginErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, authapi.ErrInvalidRequest):
		return http.StatusBadRequest, "email and password are required"
	case authapi.IsUnauthorized(err):
		return http.StatusUnauthorized, "incorrect email or password"
	default:
		return http.StatusBadGateway, "login is currently unavailable"
	}
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := g.session.Logout(ctx); err != nil {
		slog.ErrorContext(ctx, "logout incomplete", "error", err)
	}

	if isJSONRequest(r) || strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}

func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, g.session.Snapshot(r.Context()), http.StatusOK)
}

// handleHome is the protected landing view used when no SPA assets are configured.
func (g *Gateway) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, g.session.Snapshot(r.Context()), http.StatusOK)
}

// spaHandler serves files from dir and falls back to index.html for client-side routes.
func spaHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}

func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
