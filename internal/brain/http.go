package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/mentora/internal/reliability"
)

// HTTPClient forwards requests to a compatible HTTP completion endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", errors.Join(reliability.ErrBackendUnavailable, err))
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return Response{}, fmt.Errorf("backend status %d: %w", res.StatusCode, reliability.ErrRateLimited)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, fmt.Errorf("backend status %d: %s: %w", res.StatusCode, string(body), reliability.ErrBackendUnavailable)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		// Plain-text endpoints are accepted as-is.
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Response{}, fmt.Errorf("empty backend response: %w", reliability.ErrBackendUnavailable)
		}
		return Response{Text: text}, nil
	}
	return out, nil
}
