package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"pastelock/cfg"
	"pastelock/svc/db"
	"pastelock/svc/keys"
	"pastelock/svc/lim"
	"pastelock/svc/svc"
	"pastelock/svc/util"
	"pastelock/svc/views"
)

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	lim        *lim.Limiter
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

type Deps struct {
	Paste     *svc.Paste
	Keys      *keys.Service
	Analytics *views.Aggregator
	Limiter   *lim.Limiter
	DB        *db.SQLite
	Redis     *db.Redis
}

func NewServer(c *cfg.Cfg, d Deps) *Server {
	r := chi.NewRouter()
	mw := NewMw(d.Limiter, c)
	s := &Server{
		router: r,
		paste:  d.Paste,
		lim:    d.Limiter,
		cfg:    c,
		db:     d.DB,
		rdb:    d.Redis,
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Mount("/debug", middleware.Profiler())

	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		r.Use(mw.CORS)
		r.Use(mw.JSONContentType)
		r.Use(mw.AnomalyDetection)
		r.Use(mw.AdminSession)

		hdl := &Hdl{paste: d.Paste, cfg: c}
		keyHdl := &KeyHdl{keys: d.Keys, cfg: c}
		analyticsHdl := &AnalyticsHdl{agg: d.Analytics, paste: d.Paste}

		r.With(mw.RateLimit("create")).Post("/pastes", hdl.CreatePaste)
		r.With(mw.RateLimit("view")).Get("/pastes/{id}", hdl.GetPaste)
		r.With(mw.RateLimit("request")).Post("/access-requests", keyHdl.SubmitRequest)
		r.With(mw.RateLimit("verify")).Post("/keys/verify", keyHdl.VerifyKey)

		// Admin surface.
		r.Group(func(r chi.Router) {
			r.Use(mw.AdminOnly)
			r.Get("/pastes", hdl.ListPastes)
			r.Put("/pastes/{id}", hdl.UpdatePaste)
			r.Delete("/pastes/{id}", hdl.DeletePaste)
			r.Get("/pastes/stats/summary", hdl.Stats)

			r.Get("/pastes/{id}/analytics", analyticsHdl.GetAnalytics)
			r.Post("/pastes/{id}/views/reset", analyticsHdl.ResetViews)
			r.Delete("/pastes/{id}/views", analyticsHdl.ClearViews)
			r.Delete("/views", analyticsHdl.ClearAllViews)

			r.Post("/keys", keyHdl.GenerateKey)
			r.Get("/keys", keyHdl.ListKeys)
			r.Delete("/keys/{id}", keyHdl.RevokeKey)

			r.Get("/access-requests", keyHdl.ListRequests)
			r.Post("/access-requests/{id}/approve", keyHdl.ApproveRequest)
			r.Post("/access-requests/{id}/deny", keyHdl.DenyRequest)
		})
	})

	s.httpServer = &http.Server{
		Addr:           ":" + c.Port,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 256 * 1024,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) SetTimeouts(read, write, idle time.Duration) {
	s.httpServer.ReadTimeout = read
	s.httpServer.WriteTimeout = write
	s.httpServer.IdleTimeout = idle
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
