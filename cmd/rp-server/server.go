// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/nextidentity/rp/flow"
	"github.com/nextidentity/rp/session"
	"github.com/nextidentity/rp/tokens"
)

// requestTimeout bounds a request, callbacks included.
const requestTimeout = 60 * time.Second

type server struct {
	controller *flow.Controller
	sessions   *session.Manager
	tokens     *tokens.Manager
	logger     hclog.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.health)
	r.Get("/login", s.loginPage)
	r.Get("/me", s.me)
	r.Handle("/", flow.NewHandler(s.controller, s.sessions, http.HandlerFunc(s.home), flow.WithLogger(s.logger)))
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loginPage is the login surface failures are sent to.
func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if code := r.URL.Query().Get(flow.LoginErrorParam); code != "" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, "login failed: %s\n", flow.SanitizeCode(code))
	}
	fmt.Fprintln(w, "log in: /?auth=login")
	fmt.Fprintln(w, "register: /?auth=register")
}

func (s *server) home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, ok := s.sessions.AccountID(r); ok {
		fmt.Fprintln(w, "logged in: /me /?auth=edit_profile /?auth=logout")
		return
	}
	fmt.Fprintln(w, "anonymous: /?auth=login")
}

type meResponse struct {
	AccountID      string `json:"account_id"`
	Linked         bool   `json:"linked"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	HasAccessToken bool   `json:"has_access_token"`
}

// me reports the session's account.  It asks for an access token so an
// expired one gets refreshed.
func (s *server) me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.sessions.AccountID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not logged in"})
		return
	}
	ctx := r.Context()
	accessToken, err := s.tokens.GetAccessToken(ctx, accountID)
	if err != nil {
		s.logger.Error("unable to read account", "account_id", accountID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unable to read account"})
		return
	}
	avatar, err := s.tokens.AvatarURL(ctx, accountID)
	if err != nil {
		s.logger.Error("unable to read avatar", "account_id", accountID, "error", err)
	}
	writeJSON(w, http.StatusOK, meResponse{
		AccountID:      accountID,
		Linked:         s.tokens.IsLinked(ctx, accountID),
		AvatarURL:      avatar,
		HasAccessToken: accessToken != "",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
