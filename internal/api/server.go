// Package api exposes the HTTP surface: auth, group and instance
// management, sync triggers and progress polling for the dashboard.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/chmdznr/immich-album-sync/internal/auth"
	"github.com/chmdznr/immich-album-sync/internal/db"
	"github.com/chmdznr/immich-album-sync/internal/sync"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// Server wires the API handlers to their collaborators.
type Server struct {
	db              *db.DB
	svc             *sync.Service
	tokens          *auth.Manager
	log             zerolog.Logger
	defaultSyncTime string
	httpTimeout     time.Duration
}

// NewServer builds the API server.
func NewServer(database *db.DB, svc *sync.Service, tokens *auth.Manager, log zerolog.Logger, defaultSyncTime string, httpTimeout time.Duration) *Server {
	if defaultSyncTime == "" {
		defaultSyncTime = "00:00"
	}
	return &Server{
		db:              database,
		svc:             svc,
		tokens:          tokens,
		log:             log.With().Str("component", "api").Logger(),
		defaultSyncTime: defaultSyncTime,
		httpTimeout:     httpTimeout,
	}
}

// Router assembles all routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleMe)

			r.Post("/groups", s.handleCreateGroup)
			r.Get("/groups", s.handleListGroups)
			r.Get("/groups/{groupID}", s.handleGetGroup)
			r.Post("/groups/{groupID}/members", s.handleAddMember)
			r.Get("/groups/{groupID}/members", s.handleListMembers)
			r.Post("/groups/{groupID}/instances", s.handleCreateInstance)
			r.Get("/groups/{groupID}/instances", s.handleListInstances)
			r.Delete("/instances/{instanceID}", s.handleDeleteInstance)
			r.Post("/instances/validate", s.handleValidateInstance)

			r.Post("/sync/{groupID}", s.handleStartSync)
			r.Get("/sync/{groupID}/progress", s.handleProgress)
		})
	})
	return r
}

type ctxKey int

const userKey ctxKey = iota

// requireAuth validates the bearer token and loads the user into the context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := s.tokens.ParseToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		user, err := s.db.GetUserByUsername(r.Context(), username)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func currentUser(r *http.Request) models.User {
	user, _ := r.Context().Value(userKey).(models.User)
	return user
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, map[string]string{"detail": detail})
}
