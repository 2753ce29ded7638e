package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chmdznr/immich-album-sync/internal/auth"
	"github.com/chmdznr/immich-album-sync/internal/immich"
	"github.com/chmdznr/immich-album-sync/internal/sync"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		s.respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if _, err := s.db.GetUserByUsername(r.Context(), req.Username); err == nil {
		s.respondError(w, http.StatusBadRequest, "username already exists")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "hash password")
		return
	}
	user, err := s.db.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "create user")
		return
	}
	s.respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.db.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.respondError(w, http.StatusBadRequest, "incorrect username or password")
		return
	}
	token, err := s.tokens.CreateToken(user.Username)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "create token")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"accessToken": token, "tokenType": "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, currentUser(r))
}

type createGroupRequest struct {
	Label        string     `json:"label"`
	ScheduleTime string     `json:"scheduleTime"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
		s.respondError(w, http.StatusBadRequest, "label is required")
		return
	}
	schedule := req.ScheduleTime
	if schedule == "" {
		schedule = s.defaultSyncTime
	}
	group, err := s.db.CreateGroup(r.Context(), models.SyncGroup{
		Label:        req.Label,
		OwnerID:      currentUser(r).ID,
		ScheduleTime: schedule,
		Active:       true,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "create group")
		return
	}
	if err := s.db.AddMember(r.Context(), group.ID, group.OwnerID); err != nil {
		s.respondError(w, http.StatusInternalServerError, "add owner membership")
		return
	}
	s.respondJSON(w, http.StatusCreated, group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.db.ListGroupsForUser(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "list groups")
		return
	}
	if groups == nil {
		groups = []models.SyncGroup{}
	}
	s.respondJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := s.pathID(w, r, "groupID")
	if !ok {
		return
	}
	group, err := s.db.GetGroup(r.Context(), groupID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "group not found")
		return
	}
	s.respondJSON(w, http.StatusOK, group)
}

type addMemberRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := s.pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		s.respondError(w, http.StatusBadRequest, "username is required")
		return
	}
	group, err := s.db.GetGroup(r.Context(), groupID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "group not found")
		return
	}
	if group.OwnerID != currentUser(r).ID {
		s.respondError(w, http.StatusForbidden, "only the group owner can add members")
		return
	}
	user, err := s.db.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err := s.db.AddMember(r.Context(), groupID, user.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, "add member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := s.pathID(w, r, "groupID")
	if !ok {
		return
	}
	members, err := s.db.ListGroupMembers(r.Context(), groupID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "list members")
		return
	}
	if members == nil {
		members = []models.GroupMember{}
	}
	s.respondJSON(w, http.StatusOK, members)
}

type createInstanceRequest struct {
	Label          string `json:"label"`
	BaseURL        string `json:"baseUrl"`
	APIKey         string `json:"apiKey"`
	AlbumID        string `json:"albumId"`
	SizeLimitBytes int64  `json:"sizeLimitBytes"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	groupID, ok := s.pathID(w, r, "groupID")
	if !ok {
		return
	}
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Label == "" || req.BaseURL == "" || req.APIKey == "" || req.AlbumID == "" {
		s.respondError(w, http.StatusBadRequest, "label, baseUrl, apiKey and albumId are required")
		return
	}
	if _, err := s.db.GetGroup(r.Context(), groupID); err != nil {
		s.respondError(w, http.StatusNotFound, "group not found")
		return
	}
	sizeLimit := req.SizeLimitBytes
	if sizeLimit == 0 {
		sizeLimit = 100 * 1024 * 1024
	}
	inst, err := s.db.CreateInstance(r.Context(), models.Instance{
		UserID:         currentUser(r).ID,
		GroupID:        groupID,
		Label:          req.Label,
		BaseURL:        req.BaseURL,
		APIKey:         req.APIKey,
		AlbumID:        req.AlbumID,
		SizeLimitBytes: sizeLimit,
		Active:         true,
	})
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "create instance (one per user and group)")
		return
	}
	s.respondJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	groupID, ok := s.pathID(w, r, "groupID")
	if !ok {
		return
	}
	instances, err := s.db.ListGroupInstances(r.Context(), groupID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "list instances")
		return
	}
	if instances == nil {
		instances = []models.Instance{}
	}
	s.respondJSON(w, http.StatusOK, instances)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := s.pathID(w, r, "instanceID")
	if !ok {
		return
	}
	if err := s.db.DeleteInstance(r.Context(), instanceID); err != nil {
		s.respondError(w, http.StatusInternalServerError, "delete instance")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateInstanceRequest struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
	AlbumID string `json:"albumId"`
}

func (s *Server) handleValidateInstance(w http.ResponseWriter, r *http.Request) {
	var req validateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BaseURL == "" {
		s.respondError(w, http.StatusBadRequest, "baseUrl is required")
		return
	}
	client := immich.New(req.BaseURL, req.APIKey, s.httpTimeout)
	s.respondJSON(w, http.StatusOK, client.Validate(r.Context(), req.AlbumID))
}

func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	groupID, ok := s.pathID(w, r, "groupID")
	if !ok {
		return
	}
	err := s.svc.StartSync(r.Context(), groupID)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, sync.ErrAlreadyRunning):
		s.respondJSON(w, http.StatusConflict, map[string]string{"status": "alreadyRunning"})
	case errors.Is(err, sync.ErrGroupUnavailable):
		s.respondJSON(w, http.StatusConflict, map[string]string{"status": "groupInactiveOrExpired"})
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	groupID, ok := s.pathID(w, r, "groupID")
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, s.svc.Progress(groupID))
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
