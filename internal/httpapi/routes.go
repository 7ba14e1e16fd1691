package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/comic-readalong-backend/internal/hub"
	"github.com/DoyleJ11/comic-readalong-backend/internal/service"
	"github.com/DoyleJ11/comic-readalong-backend/internal/ws"
)

type Deps struct {
	Comics   *service.ComicService
	Sessions *service.SessionService
	Hub      *hub.Hub
	Logger   *zap.Logger

	DefaultUserID string
	RateLimit     rate.Limit
	RateBurst     int
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)

	r.Group(func(r chi.Router) {
		if d.RateLimit > 0 {
			r.Use(rateLimit(rate.NewLimiter(d.RateLimit, d.RateBurst)))
		}
		r.Use(withUser(d.DefaultUserID))

		r.Route("/comics", func(r chi.Router) {
			r.Post("/", CreateComic(d.Comics, d.Logger))
			r.Get("/", ListComics(d.Comics, d.Logger))
			r.Get("/{id}", GetComic(d.Comics, d.Logger))
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", CreateSession(d.Sessions, d.Logger))
			r.Get("/", ListSessions(d.Sessions, d.Logger))
			r.Get("/{id}", GetSession(d.Sessions, d.Logger))
			r.Put("/{id}/progress", UpdateProgress(d.Sessions, d.Hub, d.Logger))
			r.Put("/{id}/characters", UpdateCharacters(d.Sessions, d.Hub, d.Logger))
		})

		r.Get("/ws", ws.Handler(d.Hub, d.Sessions, userFrom, d.Logger))
	})
	return r
}
