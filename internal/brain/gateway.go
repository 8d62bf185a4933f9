package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/mentora/internal/reliability"
)

const (
	gatewayWriteTimeout = 3 * time.Second
	gatewayReadTimeout  = 90 * time.Second
)

// GatewayClient streams completions over a WebSocket gateway. Each call
// dials a fresh connection; the gateway multiplexes users server-side.
type GatewayClient struct {
	wsURL  string
	token  string
	dialer websocket.Dialer
}

type gatewayFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *gatewayError   `json:"error,omitempty"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type completeParams struct {
	UserID  string   `json:"userId"`
	Prompt  string   `json:"prompt"`
	System  string   `json:"system,omitempty"`
	Context []string `json:"context,omitempty"`
}

type completeEventPayload struct {
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
	Model string `json:"model,omitempty"`
	Done  bool   `json:"done,omitempty"`
}

func NewGatewayClient(wsURL, token string) (*GatewayClient, error) {
	wsURL, err := normalizeGatewayURL(wsURL)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("brain: gateway token is required")
	}
	return &GatewayClient{
		wsURL: wsURL,
		token: token,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

func (c *GatewayClient) Complete(ctx context.Context, req Request) (Response, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return Response{}, fmt.Errorf("dial gateway: %w", errors.Join(reliability.ErrBackendUnavailable, err))
	}
	defer conn.Close()

	id := uuid.NewString()
	frame := struct {
		Type   string         `json:"type"`
		ID     string         `json:"id"`
		Method string         `json:"method"`
		Params completeParams `json:"params"`
	}{
		Type:   "req",
		ID:     id,
		Method: "complete",
		Params: completeParams{
			UserID:  req.UserID,
			Prompt:  req.Prompt,
			System:  req.System,
			Context: req.Context,
		},
	}

	conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return Response{}, fmt.Errorf("write request: %w", errors.Join(reliability.ErrBackendUnavailable, err))
	}

	var out strings.Builder
	var model string
	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(gatewayReadTimeout))
		var f gatewayFrame
		if err := conn.ReadJSON(&f); err != nil {
			return Response{}, fmt.Errorf("read frame: %w", errors.Join(reliability.ErrBackendUnavailable, err))
		}

		switch f.Type {
		case "res":
			if f.ID != id {
				continue
			}
			if f.Error != nil {
				if f.Error.Code == "rate_limited" {
					return Response{}, fmt.Errorf("gateway %s: %s: %w", f.Error.Code, f.Error.Message, reliability.ErrRateLimited)
				}
				return Response{}, fmt.Errorf("gateway %s: %s: %w", f.Error.Code, f.Error.Message, reliability.ErrBackendUnavailable)
			}
			// Acknowledged; deltas follow as events.
		case "event":
			if f.Event != "complete" {
				continue
			}
			var payload completeEventPayload
			if err := json.Unmarshal(f.Payload, &payload); err != nil {
				continue
			}
			if payload.Delta != "" {
				out.WriteString(payload.Delta)
			}
			if payload.Model != "" {
				model = payload.Model
			}
			if payload.Done {
				text := payload.Text
				if text == "" {
					text = out.String()
				}
				return Response{Text: text, Model: model}, nil
			}
		}
	}
}

func normalizeGatewayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "ws://127.0.0.1:18789"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	return u.String(), nil
}
