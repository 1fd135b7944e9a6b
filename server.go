package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg     *Config
	mgr     *RoomManager
	issuer  *LiveKitIssuer
	limiter *RateLimiter
	log     zerolog.Logger

	srv      *http.Server
	upgrader websocket.Upgrader
}

func NewServer(cfg *Config, mgr *RoomManager, issuer *LiveKitIssuer, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		mgr:     mgr,
		issuer:  issuer,
		limiter: NewRateLimiter(cfg.RateLimitPerIP),
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/rooms", s.handleCreateRoom)
	r.Get("/rooms", s.handleListRooms)
	r.Get("/rooms/{roomID}", s.handleGetRoom)
	r.Post("/rooms/{roomID}/reset", s.handleResetRoom)
	r.Post("/sfu/token", s.handleToken)
	r.Get("/ws/rooms/{roomID}", s.handleWS)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("http shutdown")
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var cfg RoomConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := cfg.Normalize(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := s.mgr.Upsert(cfg)
	if err != nil {
		if errors.Is(err, ErrRoomLimit) {
			respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("upsert room")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, room.Snapshot())
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	states := s.mgr.ListStates()
	if states == nil {
		states = []RoomSnapshot{}
	}
	respondJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := normalizeRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, err := s.mgr.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Room not found")
		return
	}
	respondJSON(w, http.StatusOK, room.Snapshot())
}

func (s *Server) handleResetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := normalizeRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, err := s.mgr.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "Room not found")
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		user = "system"
	}
	room.Reset(user)
	respondJSON(w, http.StatusOK, room.Snapshot())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"room_id"`
		User   string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	roomID, err := normalizeRoomID(req.RoomID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := normalizeUserName(req.User)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.issuer.Configured() {
		respondError(w, http.StatusServiceUnavailable, "LiveKit credentials are not configured")
		return
	}

	resp, err := s.issuer.Mint(roomID, identity)
	if err != nil {
		s.log.Error().Err(err).Str("room", roomID).Msg("mint access token")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.log.Info().Str("room", roomID).Str("identity", identity).Msg("issued access token")
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := normalizeRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, err := s.mgr.GetOrCreate(id)
	if err != nil {
		if errors.Is(err, ErrRoomLimit) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}

	conn := NewConn(room, ws, s.log)
	room.Subscribe(conn)
	go conn.WritePump()

	// Push the current state so a fresh client renders immediately.
	room.BroadcastState()

	conn.ReadPump()
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
