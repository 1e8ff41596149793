package httpapi

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/handcricket-backend/internal/hub"
	"github.com/DoyleJ11/handcricket-backend/internal/ws"
)

type Options struct {
	AllowedOrigins []string
	WS             ws.Config
	Logger         *zap.Logger
}

func SetupRoutes(h *hub.Hub, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	wsCfg := opts.WS
	if wsCfg.OriginPatterns == nil {
		wsCfg.OriginPatterns = ws.OriginPatterns(origins)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodOptions},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	})
	r.Use(c.Handler)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/rooms/{code}", GetRoom(h, logger))
	r.Get("/ws", ws.Handler(h, wsCfg, logger.Named("ws")))

	if slices.Contains(origins, "*") {
		logger.Warn("accepting requests from any origin")
	}
	return r
}
