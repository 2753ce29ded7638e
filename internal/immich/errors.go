package immich

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Error taxonomy for remote calls. The executor retries only
// ErrRemoteUnavailable; every other failure is terminal for the item.
var (
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrNotFound          = errors.New("not found")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrInvalidAsset      = errors.New("invalid asset")
)

// statusError maps an unexpected HTTP status to the error taxonomy.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var base error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		base = ErrNotFound
	case resp.StatusCode == http.StatusRequestEntityTooLarge,
		resp.StatusCode == http.StatusInsufficientStorage:
		base = ErrQuotaExceeded
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusUnprocessableEntity:
		base = ErrInvalidAsset
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		base = ErrRemoteUnavailable
	default:
		return fmt.Errorf("%s returned status %d: %s", op, resp.StatusCode, body)
	}
	return fmt.Errorf("%s returned status %d: %s: %w", op, resp.StatusCode, body, base)
}

// transportError wraps a network-level failure as recoverable.
func transportError(op string, err error) error {
	return fmt.Errorf("%s request failed: %v: %w", op, err, ErrRemoteUnavailable)
}
