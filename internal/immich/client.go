// Package immich implements the REST client for one Immich instance.
//
// API surface used: album info (asset listing), asset download/upload,
// album membership changes and the bulk-upload-check duplicate probe.
// Several endpoints moved across Immich releases; the client falls
// through the known variants on 404 so any reasonably recent server works.
package immich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Asset is a normalized album entry as reported by one server.
type Asset struct {
	RemoteID       string
	Checksum       string
	FileName       string
	Size           int64
	DeviceAssetID  string
	DeviceID       string
	FileCreatedAt  string
	FileModifiedAt string
	Type           string
}

// UploadRequest carries everything needed to recreate an asset on a server.
type UploadRequest struct {
	FileName       string
	Content        []byte
	Checksum       string
	DeviceAssetID  string
	DeviceID       string
	FileCreatedAt  string
	FileModifiedAt string
}

// Client talks to a single Immich server with one API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the given server. A trailing "/api" on the base
// URL is tolerated and stripped; paths below always include it.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	base = strings.TrimSuffix(base, "/api")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: base,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, transportError(method+" "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, statusError(method+" "+path, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

type rawAsset struct {
	ID               string `json:"id"`
	Checksum         string `json:"checksum"`
	OriginalFileName string `json:"originalFileName"`
	FileCreatedAt    string `json:"fileCreatedAt"`
	FileModifiedAt   string `json:"fileModifiedAt"`
	DeviceAssetID    string `json:"deviceAssetId"`
	DeviceID         string `json:"deviceId"`
	Type             string `json:"type"`
	FileSizeInByte   int64  `json:"fileSizeInByte"`
	Size             int64  `json:"size"`
	ExifInfo         struct {
		Hash           string `json:"hash"`
		FileSizeInByte int64  `json:"fileSizeInByte"`
	} `json:"exifInfo"`
}

func (a rawAsset) normalize() Asset {
	checksum := a.Checksum
	if checksum == "" {
		checksum = a.ExifInfo.Hash
	}
	size := a.FileSizeInByte
	if size == 0 {
		size = a.Size
	}
	if size == 0 {
		size = a.ExifInfo.FileSizeInByte
	}
	return Asset{
		RemoteID:       a.ID,
		Checksum:       checksum,
		FileName:       a.OriginalFileName,
		Size:           size,
		DeviceAssetID:  a.DeviceAssetID,
		DeviceID:       a.DeviceID,
		FileCreatedAt:  a.FileCreatedAt,
		FileModifiedAt: a.FileModifiedAt,
		Type:           a.Type,
	}
}

// ListAlbumAssets returns every asset in the album, normalized. The album
// info endpoint returns the full asset list in one response.
func (c *Client) ListAlbumAssets(ctx context.Context, albumID string) ([]Asset, error) {
	var info struct {
		Assets []rawAsset `json:"assets"`
	}
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/albums/"+albumID, nil, &info); err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(info.Assets))
	for _, raw := range info.Assets {
		if raw.ID == "" {
			continue
		}
		assets = append(assets, raw.normalize())
	}
	return assets, nil
}

// downloadPaths in the order they appeared across Immich releases.
func downloadPaths(remoteID string) []string {
	return []string{
		"/api/assets/" + remoteID + "/original",
		"/api/assets/download/" + remoteID,
		"/api/assets/" + remoteID + "/download",
	}
}

// DownloadAsset streams the original bytes of an asset. The caller must
// close the returned reader.
func (c *Client) DownloadAsset(ctx context.Context, remoteID string) (io.ReadCloser, error) {
	paths := downloadPaths(remoteID)
	for i, path := range paths {
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, transportError("download", err)
		}
		if resp.StatusCode == http.StatusNotFound && i < len(paths)-1 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := statusError("download", resp)
			_ = resp.Body.Close()
			return nil, err
		}
		return resp.Body, nil
	}
	return nil, fmt.Errorf("download %s: %w", remoteID, ErrNotFound)
}

// UploadAsset pushes asset bytes to the server and returns the new remote id.
// The server deduplicates by checksum, so re-uploading is safe.
func (c *Client) UploadAsset(ctx context.Context, up UploadRequest) (string, error) {
	deviceAssetID := up.DeviceAssetID
	if deviceAssetID == "" {
		deviceAssetID = up.FileName
	}
	deviceID := up.DeviceID
	if deviceID == "" {
		deviceID = "immich-album-sync"
	}
	modifiedAt := up.FileModifiedAt
	if modifiedAt == "" {
		modifiedAt = up.FileCreatedAt
	}

	buildForm := func() (*bytes.Buffer, string, error) {
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		part, err := w.CreateFormFile("assetData", up.FileName)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(up.Content); err != nil {
			return nil, "", err
		}
		fields := map[string]string{
			"deviceAssetId":  deviceAssetID,
			"deviceId":       deviceID,
			"fileCreatedAt":  up.FileCreatedAt,
			"fileModifiedAt": modifiedAt,
		}
		for name, value := range fields {
			if err := w.WriteField(name, value); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return buf, w.FormDataContentType(), nil
	}

	for i, path := range []string{"/api/assets", "/api/assets/upload"} {
		form, contentType, err := buildForm()
		if err != nil {
			return "", err
		}
		req, err := c.newRequest(ctx, http.MethodPost, path, form)
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", contentType)
		if up.Checksum != "" {
			req.Header.Set("x-immich-checksum", up.Checksum)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", transportError("upload", err)
		}
		if resp.StatusCode == http.StatusNotFound && i == 0 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := statusError("upload", resp)
			_ = resp.Body.Close()
			return "", err
		}
		var result struct {
			ID      string `json:"id"`
			AssetID string `json:"assetId"`
		}
		err = json.NewDecoder(resp.Body).Decode(&result)
		_ = resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("decode upload response: %w", err)
		}
		id := result.ID
		if id == "" {
			id = result.AssetID
		}
		if id == "" {
			return "", fmt.Errorf("upload: server returned no asset id: %w", ErrInvalidAsset)
		}
		return id, nil
	}
	return "", fmt.Errorf("upload: %w", ErrNotFound)
}

// AddToAlbum puts existing assets into the album. Adding an asset that is
// already a member is a no-op on the server side.
func (c *Client) AddToAlbum(ctx context.Context, albumID string, remoteIDs []string) error {
	payload := map[string][]string{"ids": remoteIDs}
	status, err := c.doJSON(ctx, http.MethodPut, "/api/albums/"+albumID+"/assets", payload, nil)
	if err != nil && (status == http.StatusNotFound || status == http.StatusMethodNotAllowed) {
		_, err = c.doJSON(ctx, http.MethodPost, "/api/albums/"+albumID+"/assets", payload, nil)
	}
	return err
}

// RemoveFromAlbum removes assets from the album without deleting them.
func (c *Client) RemoveFromAlbum(ctx context.Context, albumID string, remoteIDs []string) error {
	payload := map[string][]string{"ids": remoteIDs}
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/albums/"+albumID+"/assets", payload, nil)
	return err
}

// BulkUploadCheck asks the server whether it already holds an asset with the
// given checksum, anywhere, not just in the album. Returns the existing
// remote id, or "" when the server does not have it (or the endpoint is
// unsupported, in which case callers fall back to copying).
func (c *Client) BulkUploadCheck(ctx context.Context, checksum string) (string, error) {
	const probeID = "sync"
	payload := map[string]any{
		"assets": []map[string]string{{"id": probeID, "checksum": checksum}},
	}
	var result struct {
		Results []bulkCheckEntry `json:"results"`
		Assets  []bulkCheckEntry `json:"assets"`
	}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/assets/bulk-upload-check", payload, &result); err != nil {
		return "", err
	}
	entries := result.Results
	if len(entries) == 0 {
		entries = result.Assets
	}
	for _, entry := range entries {
		action := entry.Action
		if action == "" {
			action = entry.Status
		}
		if action != "reject" && action != "duplicate" {
			continue
		}
		// Some releases echo the probe id back; that is not an asset id.
		if id := entry.existingID(); id != "" && id != probeID {
			return id, nil
		}
	}
	return "", nil
}

type bulkCheckEntry struct {
	ID         string `json:"id"`
	AssetID    string `json:"assetId"`
	ExistingID string `json:"existingId"`
	Action     string `json:"action"`
	Status     string `json:"status"`
}

func (e bulkCheckEntry) existingID() string {
	switch {
	case e.AssetID != "":
		return e.AssetID
	case e.ExistingID != "":
		return e.ExistingID
	default:
		return e.ID
	}
}
