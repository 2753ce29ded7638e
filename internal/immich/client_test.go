package immich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", 5*time.Second)
}

func TestNewNormalizesBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
	}{
		{name: "plain", baseURL: "http://immich.local", expected: "http://immich.local"},
		{name: "trailing slash", baseURL: "http://immich.local/", expected: "http://immich.local"},
		{name: "trailing api", baseURL: "http://immich.local/api", expected: "http://immich.local"},
		{name: "trailing api slash", baseURL: "http://immich.local/api/", expected: "http://immich.local"},
		{name: "whitespace", baseURL: "  http://immich.local ", expected: "http://immich.local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.baseURL, "k", 0)
			assert.Equal(t, tt.expected, c.baseURL)
		})
	}
}

func TestListAlbumAssetsNormalizes(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/albums/alb-1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{
			"assets": [
				{"id": "a1", "checksum": "c1", "originalFileName": "one.jpg", "fileSizeInByte": 100},
				{"id": "a2", "originalFileName": "two.jpg", "size": 200,
				 "exifInfo": {"hash": "c2"}},
				{"id": "a3", "originalFileName": "three.jpg",
				 "exifInfo": {"fileSizeInByte": 300}},
				{"originalFileName": "no-id.jpg"}
			]
		}`))
	}))

	assets, err := client.ListAlbumAssets(context.Background(), "alb-1")
	require.NoError(t, err)
	require.Len(t, assets, 3)

	assert.Equal(t, "c1", assets[0].Checksum)
	assert.Equal(t, int64(100), assets[0].Size)

	// Checksum falls back to the exif hash, size to the "size" field.
	assert.Equal(t, "c2", assets[1].Checksum)
	assert.Equal(t, int64(200), assets[1].Size)

	// Size falls back to the exif size.
	assert.Equal(t, "", assets[2].Checksum)
	assert.Equal(t, int64(300), assets[2].Size)
}

func TestDownloadAssetFallsThroughPaths(t *testing.T) {
	var tried []string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tried = append(tried, r.URL.Path)
		if r.URL.Path != "/api/assets/a1/download" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("bytes"))
	}))

	body, err := client.DownloadAsset(context.Background(), "a1")
	require.NoError(t, err)
	content, err := io.ReadAll(body)
	require.NoError(t, err)
	_ = body.Close()

	assert.Equal(t, "bytes", string(content))
	assert.Equal(t, []string{
		"/api/assets/a1/original",
		"/api/assets/download/a1",
		"/api/assets/a1/download",
	}, tried)
}

func TestDownloadAssetNotFoundAnywhere(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.DownloadAsset(context.Background(), "a1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUploadAssetSendsChecksumHeader(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/assets", r.URL.Path)
		assert.Equal(t, "c1", r.Header.Get("x-immich-checksum"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "one.jpg", r.MultipartForm.Value["deviceAssetId"][0])
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "new-1"})
	}))

	id, err := client.UploadAsset(context.Background(), UploadRequest{
		FileName: "one.jpg",
		Content:  []byte("data"),
		Checksum: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)
}

func TestUploadAssetFallsBackToLegacyPath(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/assets" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/api/assets/upload", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"assetId": "new-2"})
	}))

	id, err := client.UploadAsset(context.Background(), UploadRequest{FileName: "one.jpg", Content: []byte("d")})
	require.NoError(t, err)
	assert.Equal(t, "new-2", id)
}

func TestAddToAlbumFallsBackToPost(t *testing.T) {
	var methods []string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, []string{"a1"}, payload["ids"])
		w.WriteHeader(http.StatusOK)
	}))

	err := client.AddToAlbum(context.Background(), "alb-1", []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPut, http.MethodPost}, methods)
}

func TestRemoveFromAlbum(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/albums/alb-1/assets", r.URL.Path)
		var payload map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, []string{"a1", "a2"}, payload["ids"])
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.RemoveFromAlbum(context.Background(), "alb-1", []string{"a1", "a2"}))
}

func TestBulkUploadCheck(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
	}{
		{
			name:     "duplicate with asset id",
			response: `{"results": [{"id": "sync", "assetId": "existing-1", "action": "reject", "reason": "duplicate"}]}`,
			expected: "existing-1",
		},
		{
			name:     "accept means absent",
			response: `{"results": [{"id": "sync", "action": "accept"}]}`,
			expected: "",
		},
		{
			name:     "status field variant",
			response: `{"assets": [{"id": "sync", "existingId": "existing-2", "status": "duplicate"}]}`,
			expected: "existing-2",
		},
		{
			name:     "rejected without asset id yields nothing",
			response: `{"results": [{"id": "sync", "action": "reject"}]}`,
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/assets/bulk-upload-check", r.URL.Path)
				_, _ = w.Write([]byte(tt.response))
			}))
			id, err := client.BulkUploadCheck(context.Background(), "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected error
	}{
		{name: "not found", status: http.StatusNotFound, expected: ErrNotFound},
		{name: "payload too large", status: http.StatusRequestEntityTooLarge, expected: ErrQuotaExceeded},
		{name: "insufficient storage", status: http.StatusInsufficientStorage, expected: ErrQuotaExceeded},
		{name: "bad request", status: http.StatusBadRequest, expected: ErrInvalidAsset},
		{name: "unsupported media type", status: http.StatusUnsupportedMediaType, expected: ErrInvalidAsset},
		{name: "server error", status: http.StatusInternalServerError, expected: ErrRemoteUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := client.ListAlbumAssets(context.Background(), "alb-1")
			require.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestTransportErrorIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(url, "k", time.Second)
	_, err := client.ListAlbumAssets(context.Background(), "alb-1")
	require.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestValidate(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/albums" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Path == "/api/albums/alb-1" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"id": "alb-1"}`))
		case r.URL.Path == "/api/albums/alb-1/assets" && r.Method == http.MethodPut:
			// Empty id lists are rejected but prove write access.
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	report := client.Validate(context.Background(), "alb-1")
	assert.True(t, report.CanListAlbums)
	require.NotNil(t, report.CanReadAlbum)
	assert.True(t, *report.CanReadAlbum)
	require.NotNil(t, report.CanModifyAlbum)
	assert.True(t, *report.CanModifyAlbum)
	assert.Equal(t, http.StatusBadRequest, report.AlbumWriteStatus)
}
