package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// RateLimit bounds per-IP request rates. Zero Requests disables limiting.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	Engine    Engine
	Inbox     InboxReader
	Verifier  *TokenVerifier
	RateLimit RateLimit
}

// NewRouter assembles the availability API. Everything under /v1 requires a
// bearer token; /healthz stays open for probes.
func NewRouter(opts RouterOptions) chi.Router {
	handler := NewHandler(opts.Engine, opts.Inbox)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if opts.RateLimit.Requests > 0 {
		window := opts.RateLimit.Window
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.Limit(
			opts.RateLimit.Requests,
			window,
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
					Code:    "RATE_LIMITED",
					Message: "too many requests",
				}})
			}),
		))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(Auth(opts.Verifier))

		r.Get("/status", handler.GetStatus)
		r.Get("/users/{userID}/availability", handler.DescribeAvailability)

		r.Route("/invitations", func(r chi.Router) {
			r.Post("/", handler.SendInvitation)
			r.Get("/", handler.ListInvitations)
			r.Get("/{invitationID}", handler.GetInvitation)
			r.Post("/{invitationID}/respond", handler.RespondToInvitation)
			r.Post("/{invitationID}/cancel", handler.CancelInvitation)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handler.StartAvailability)
			r.Get("/current", handler.GetCurrentSession)
			r.Post("/{sessionID}/stop", handler.StopAvailability)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", handler.ListNotifications)
			r.Get("/unread", handler.CountUnreadNotifications)
			r.Post("/{notificationID}/read", handler.MarkNotificationRead)
		})
	})

	return r
}
