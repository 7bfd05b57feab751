package license

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"

	"github.com/xaionaro-go/enhancer/pkg/status"
)

// DefaultEndpoint is the activation endpoint of the licensing service.
const DefaultEndpoint = "https://license.xaionaro.dev/v1/activate"

// Client activates access keys against the licensing service over HTTP.
//
// The client never retries on its own: ACTIVATION_THROTTLED and friends are
// returned to the caller as-is, and the retry policy is the caller's.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

var _ Validator = (*Client)(nil)

func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		Endpoint:   endpoint,
		HTTPClient: http.DefaultClient,
	}
}

type activateRequest struct {
	AccessKey string `json:"access_key"`
	Product   string `json:"product"`
	Version   string `json:"version"`
}

type activateResponse struct {
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	Message          string `json:"message"`
}

// Activate validates the key format locally and then performs the activation
// round-trip. The call blocks for the duration of the network exchange; run
// it off the latency-critical thread.
func (c *Client) Activate(ctx context.Context, accessKey string) (_ Lease, _err error) {
	logger.Tracef(ctx, "Activate")
	defer func() { logger.Tracef(ctx, "/Activate: %v", _err) }()

	if err := ValidateAccessKeyFormat(accessKey); err != nil {
		return Lease{}, status.Wrap(err, "unable to validate the access key")
	}

	reqBody, err := json.Marshal(activateRequest{
		AccessKey: accessKey,
		Product:   "enhancer",
		Version:   "1",
	})
	if err != nil {
		return Lease{}, status.Errorf(status.KindRuntime, "unable to serialize the activation request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Lease{}, status.Errorf(status.KindInvalidArgument, "unable to construct the activation request for endpoint %q: %v", c.Endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Lease{}, status.Errorf(status.KindActivation, "unable to reach the licensing service at %q", c.Endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 65536))
	if err != nil {
		return Lease{}, status.Errorf(status.KindActivation, "unable to read the licensing service response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Lease{}, statusErrorFromHTTP(resp.StatusCode, respBody)
	}

	var parsed activateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Lease{}, status.Errorf(status.KindActivation, "unable to parse the licensing service response: %v", err)
	}

	lease := Lease{}
	if parsed.ExpiresInSeconds > 0 {
		lease.ExpiresAt = time.Now().Add(time.Duration(parsed.ExpiresInSeconds) * time.Second)
	}
	logger.Debugf(ctx, "activated; the lease expires at %v", lease.ExpiresAt)
	return lease, nil
}

func statusErrorFromHTTP(httpStatus int, body []byte) *status.Error {
	var kind status.Kind
	switch httpStatus {
	case http.StatusPaymentRequired:
		kind = status.KindActivationLimit
	case http.StatusTooManyRequests:
		kind = status.KindActivationThrottled
	case http.StatusForbidden:
		kind = status.KindActivationRefused
	default:
		kind = status.KindActivation
	}

	var parsed activateResponse
	message := "activation failed"
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		message = parsed.Message
	}
	return status.Errorf(kind, "%s (HTTP %d)", message, httpStatus)
}
