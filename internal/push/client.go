package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"push-device-backend/internal/wire"
)

// APIClient is the coordinator's view of the device registry endpoints. All
// methods return the decoded response envelope; a non-nil error means the
// request never produced one (transport failure, bad status, bad body).
type APIClient interface {
	DeviceList(ctx context.Context) (*wire.DeviceListRes, error)
	DeviceSet(ctx context.Context, device wire.Device) (*wire.DeviceSetRes, error)
	DeviceDelete(ctx context.Context, ids []string) (*wire.DeviceDeleteRes, error)
}

// Client implements APIClient over HTTP against the registry server.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a client for the server at baseURL, authenticating with
// the given session token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) DeviceList(ctx context.Context) (*wire.DeviceListRes, error) {
	var res wire.DeviceListRes
	if err := c.post(ctx, "/api/pushNotifications/device/list", wire.DeviceListReq{V: wire.Version}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeviceSet(ctx context.Context, device wire.Device) (*wire.DeviceSetRes, error) {
	var res wire.DeviceSetRes
	if err := c.post(ctx, "/api/pushNotifications/device/set", wire.DeviceSetReq{V: wire.Version, Device: device}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeviceDelete(ctx context.Context, ids []string) (*wire.DeviceDeleteRes, error) {
	var res wire.DeviceDeleteRes
	if err := c.post(ctx, "/api/pushNotifications/device/delete", wire.DeviceDeleteReq{V: wire.Version, IDs: ids}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}
