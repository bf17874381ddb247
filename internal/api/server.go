// Package api exposes the booth's HTTP surface: session actions for the
// camera client, the websocket endpoint for display clients, album
// listings, kiosk health and metrics.
package api

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/photobooth/backend/internal/album"
	"github.com/photobooth/backend/internal/config"
	"github.com/photobooth/backend/internal/health"
	"github.com/photobooth/backend/internal/picture"
	"github.com/photobooth/backend/internal/session"
	"github.com/photobooth/backend/internal/ws"
)

type Server struct {
	cfg         *config.Config
	registry    *session.Registry
	pipeline    *picture.Pipeline
	albums      *album.Registry
	broadcaster *ws.Broadcaster
	collector   *health.Collector
	audit       *session.AuditLog

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cfg *config.Config, registry *session.Registry, pipeline *picture.Pipeline, albums *album.Registry, broadcaster *ws.Broadcaster, collector *health.Collector, audit *session.AuditLog) *Server {
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		pipeline:       pipeline,
		albums:         albums,
		broadcaster:    broadcaster,
		collector:      collector,
		audit:          audit,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(metricsMiddleware)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/counter", s.handleCounter)
		r.Post("/post", s.handlePost)
		r.Post("/validate", s.handleValidate)
		r.Post("/unvalidate", s.handleUnvalidate)
		r.Post("/kill", s.handleKill)
	})

	r.Get("/api/albums/{tag}", s.handleAlbum)
	r.Get("/api/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)

	// The pipeline's public URLs resolve here.
	uploads := http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.Booth.UploadDir)))
	r.Handle("/uploads/*", uploads)

	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("display client connected: %s", r.RemoteAddr)
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("display client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
