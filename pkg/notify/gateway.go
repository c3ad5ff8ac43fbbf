package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/config"
)

// HTTPGateway forwards notifications to an external device-push provider over
// a webhook. Delivery is best-effort: the caller logs and moves on.
type HTTPGateway struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPGateway(cfg config.PushConfig) *HTTPGateway {
	return &HTTPGateway{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type pushPayload struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (g *HTTPGateway) Push(ctx context.Context, token, title, body string) error {
	payload, err := json.Marshal(pushPayload{Token: token, Title: title, Body: body})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// NopGateway is used when no push endpoint is configured.
type NopGateway struct {
	logger *zap.Logger
}

func NewNopGateway(logger *zap.Logger) *NopGateway {
	return &NopGateway{logger: logger}
}

func (g *NopGateway) Push(ctx context.Context, token, title, body string) error {
	g.logger.Debug("push gateway not configured, dropping delivery", zap.String("title", title))
	return nil
}
