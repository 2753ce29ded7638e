package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/immich-album-sync/internal/auth"
	"github.com/chmdznr/immich-album-sync/internal/db"
	"github.com/chmdznr/immich-album-sync/internal/sync"
)

type testAPI struct {
	router http.Handler
	token  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	svc := sync.NewService(sync.Config{}, database, nil, nil, zerolog.Nop())
	tokens := auth.NewManager("test-secret", time.Hour)
	server := NewServer(database, svc, tokens, zerolog.Nop(), "00:00", time.Second)
	return &testAPI{router: server.Router()}
}

func (a *testAPI) do(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		buf, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(buf)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func (a *testAPI) registerAndLogin(t *testing.T, username string) {
	t.Helper()
	creds := map[string]string{"username": username, "password": "hunter2"}
	rec := a.do(t, http.MethodPost, "/api/auth/register", creds)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/auth/login", creds)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	a.decode(t, rec, &resp)
	require.NotEmpty(t, resp["accessToken"])
	a.token = resp["accessToken"]
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t, "alice")

	rec := api.do(t, http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	api.decode(t, rec, &me)
	assert.Equal(t, "alice", me["username"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t, "alice")

	rec := api.do(t, http.MethodPost, "/api/auth/register",
		map[string]string{"username": "alice", "password": "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginBadPassword(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t, "alice")

	rec := api.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	api.token = "garbage"
	rec = api.do(t, http.MethodGet, "/api/groups", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGroupAndInstanceFlow(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t, "alice")

	rec := api.do(t, http.MethodPost, "/api/groups",
		map[string]any{"label": "family", "scheduleTime": "02:00"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var group map[string]any
	api.decode(t, rec, &group)
	groupID := int64(group["id"].(float64))
	assert.Equal(t, "02:00", group["scheduleTime"])

	rec = api.do(t, http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []map[string]any
	api.decode(t, rec, &groups)
	require.Len(t, groups, 1)

	// Owner membership is created with the group.
	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/groups/%d/members", groupID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []map[string]any
	api.decode(t, rec, &members)
	require.Len(t, members, 1)

	// Adding an unknown user fails; adding a real one succeeds.
	memberPath := fmt.Sprintf("/api/groups/%d/members", groupID)
	rec = api.do(t, http.MethodPost, memberPath, map[string]string{"username": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ownerToken := api.token
	api.registerAndLogin(t, "bob")
	api.token = ownerToken
	rec = api.do(t, http.MethodPost, memberPath, map[string]string{"username": "bob"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, memberPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	members = nil
	api.decode(t, rec, &members)
	require.Len(t, members, 2)

	instPath := fmt.Sprintf("/api/groups/%d/instances", groupID)
	rec = api.do(t, http.MethodPost, instPath, map[string]any{
		"label": "home", "baseUrl": "http://home.local", "apiKey": "k", "albumId": "alb",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var inst map[string]any
	api.decode(t, rec, &inst)
	// Size limit defaults when omitted; the api key never leaves the server.
	assert.Equal(t, float64(100*1024*1024), inst["sizeLimitBytes"])
	assert.NotContains(t, inst, "apiKey")

	// A second instance for the same user in the same group is rejected.
	rec = api.do(t, http.MethodPost, instPath, map[string]any{
		"label": "second", "baseUrl": "http://x", "apiKey": "k", "albumId": "alb",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, instPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var instances []map[string]any
	api.decode(t, rec, &instances)
	require.Len(t, instances, 1)

	instID := int64(instances[0]["id"].(float64))
	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/api/instances/%d", instID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStartSyncAndProgress(t *testing.T) {
	api := newTestAPI(t)
	api.registerAndLogin(t, "alice")

	rec := api.do(t, http.MethodPost, "/api/groups", map[string]any{"label": "family"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var group map[string]any
	api.decode(t, rec, &group)
	groupID := int64(group["id"].(float64))

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/sync/%d/progress", groupID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress map[string]any
	api.decode(t, rec, &progress)
	assert.Equal(t, "idle", progress["status"])

	// A group with no instances still runs (and converges instantly).
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/sync/%d", groupID), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/sync/%d/progress", groupID), nil)
		progress = map[string]any{}
		api.decode(t, rec, &progress)
		if progress["status"] == "completed" {
			break
		}
		require.True(t, time.Now().Before(deadline), "run never completed")
		time.Sleep(5 * time.Millisecond)
	}

	// Unknown groups cannot be triggered.
	rec = api.do(t, http.MethodPost, "/api/sync/999", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var status map[string]string
	api.decode(t, rec, &status)
	assert.Equal(t, "groupInactiveOrExpired", status["status"])
}
