// Package content implements platform.ContentDriver against an external
// object-store + scanner sidecar over plain HTTP, the same "thin driver
// behind the shared interface" shape as internal/platform/evm: the core
// never reads or writes artifact bytes, it only asks a remote service
// whether a storage_key exists and what its scan/metadata verdict is.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/R3E-Network/proofwork/internal/platform"
)

// PingTimeout bounds the clamd-style health ping.
const PingTimeout = 2 * time.Second

// HTTPDriver calls a sidecar that fronts both the blob store's metadata
// endpoint and the virus scanner; BaseURL typically points at an internal
// service mesh address, never at a public bucket URL.
type HTTPDriver struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPDriver builds a driver bounded by a 5s default client timeout;
// Ping uses its own shorter per-call timeout regardless.
func NewHTTPDriver(baseURL string) *HTTPDriver {
	return &HTTPDriver{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

var _ platform.ContentDriver = (*HTTPDriver)(nil)

func (d *HTTPDriver) Name() string { return "content-http" }

func (d *HTTPDriver) Start(ctx context.Context) error { return nil }
func (d *HTTPDriver) Stop(ctx context.Context) error  { return nil }

// Ping checks the sidecar's health endpoint, bounded to PingTimeout
// regardless of the client's own configured timeout.
func (d *HTTPDriver) Ping(ctx context.Context) error {
	if d.BaseURL == "" {
		return fmt.Errorf("content: base url not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("content: sidecar unhealthy, status %d", resp.StatusCode)
	}
	return nil
}

func (d *HTTPDriver) Exists(ctx context.Context, storageKey string) (bool, error) {
	meta, err := d.GetMetadata(ctx, storageKey)
	if err != nil {
		return false, err
	}
	return meta != nil, nil
}

// GetMetadata fetches the sidecar's recorded metadata (including scan
// verdict) for a storage key. A 404 is not an error: it means the object
// hasn't completed upload yet.
func (d *HTTPDriver) GetMetadata(ctx context.Context, storageKey string) (*platform.ContentMetadata, error) {
	if d.BaseURL == "" {
		return nil, fmt.Errorf("content: base url not configured")
	}
	u := d.BaseURL + "/objects/" + url.PathEscape(storageKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("content: sidecar returned status %d", resp.StatusCode)
	}
	var meta platform.ContentMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("content: decode metadata: %w", err)
	}
	return &meta, nil
}
