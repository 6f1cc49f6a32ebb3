// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
)

// Sessions keeps the authenticated account for a browser.
// *session.Manager implements it.
type Sessions interface {
	AccountID(r *http.Request) (string, bool)
	Establish(w http.ResponseWriter, accountID string) error
	Destroy(w http.ResponseWriter)
}

// Handler serves the flow over net/http.  Requests that aren't flow
// requests go to next, or get a 404 without one.
type Handler struct {
	controller *Controller
	sessions   Sessions
	next       http.Handler
	logger     hclog.Logger
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a Handler.  next may be nil.
// Supported options:
//
//	WithLogger
func NewHandler(controller *Controller, sessions Sessions, next http.Handler, opt ...Option) *Handler {
	opts := getOpts(opt...)
	return &Handler{
		controller: controller,
		sessions:   sessions,
		next:       next,
		logger:     opts.withLogger.Named("flow-handler"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.passOn(w, r)
		return
	}
	accountID, _ := h.sessions.AccountID(r)
	resp := h.controller.Handle(r.Context(), Request{Query: r.URL.Query(), AccountID: accountID})
	if !resp.Handled() {
		h.passOn(w, r)
		return
	}

	switch resp.Session {
	case SessionEstablish:
		if err := h.sessions.Establish(w, resp.AccountID); err != nil {
			h.logger.Error("unable to establish session", "account_id", resp.AccountID, "error", err)
			http.Redirect(w, r, h.controller.fail(CodeSessionFailed).Location, http.StatusFound)
			return
		}
		h.controller.SessionEstablished(r.Context(), resp)
	case SessionDestroy:
		h.sessions.Destroy(w)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, resp.Location, http.StatusFound)
}

func (h *Handler) passOn(w http.ResponseWriter, r *http.Request) {
	if h.next != nil {
		h.next.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}
