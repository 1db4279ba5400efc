package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/syncwatch/internal/hub"
	"github.com/DoyleJ11/syncwatch/internal/media"
	"github.com/DoyleJ11/syncwatch/internal/session"
	"github.com/DoyleJ11/syncwatch/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type Deps struct {
	Session        *session.Session
	Hub            *hub.Hub
	Media          *media.Server
	AllowedOrigins []string
	Logger         *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Session, d.Hub, ws.Options{
		OriginPatterns: d.AllowedOrigins,
		Logger:         log.Named("ws"),
	}))

	// Media responses carry their own CORS header, whether or not the
	// request sent an Origin.
	r.With(requestLogger(log.Named("http"))).Method(http.MethodGet, "/video", d.Media)

	r.Route("/api", func(r chi.Router) {
		r.Use(requestLogger(log.Named("http")))
		r.Use(cors.New(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler)
		r.Get("/state", State(d.Session, d.Hub))
	})

	return r
}
