package immich

import (
	"context"
	"net/http"
)

// Validation is the capability report for one instance configuration.
type Validation struct {
	BaseURL          string `json:"baseUrl"`
	CanListAlbums    bool   `json:"canListAlbums"`
	AlbumsStatus     int    `json:"albumsStatus"`
	CanReadAlbum     *bool  `json:"canReadAlbum,omitempty"`
	AlbumReadStatus  int    `json:"albumReadStatus,omitempty"`
	CanModifyAlbum   *bool  `json:"canModifyAlbum,omitempty"`
	AlbumWriteStatus int    `json:"albumWriteStatus,omitempty"`
}

// Validate probes the server for the permissions a sync run needs: listing
// albums, reading the target album and modifying its membership. The write
// probe adds an empty id list, which never changes the album.
func (c *Client) Validate(ctx context.Context, albumID string) Validation {
	report := Validation{BaseURL: c.baseURL}

	status, err := c.doJSON(ctx, http.MethodGet, "/api/albums", nil, nil)
	report.AlbumsStatus = status
	report.CanListAlbums = err == nil

	if albumID == "" {
		return report
	}

	status, err = c.doJSON(ctx, http.MethodGet, "/api/albums/"+albumID, nil, nil)
	report.AlbumReadStatus = status
	canRead := err == nil
	report.CanReadAlbum = &canRead

	payload := map[string][]string{"ids": {}}
	status, err = c.doJSON(ctx, http.MethodPut, "/api/albums/"+albumID+"/assets", payload, nil)
	report.AlbumWriteStatus = status
	// 400 means the empty id list was rejected but the endpoint is
	// reachable with write permission.
	canWrite := err == nil || status == http.StatusBadRequest
	report.CanModifyAlbum = &canWrite

	return report
}
