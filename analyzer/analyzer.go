// Package analyzer is the HTTP client for the moderation/sentiment
// oracle (FASTAPI_URL): the pipeline's inbound stage calls it to turn
// a raw message body into a Moderation verdict.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/epic1st/pulseroom/backend/broker"
)

// Default is the verdict substituted whenever the analyzer fails or
// times out, so the pipeline always advances for a message.
var Default = broker.Moderation{
	Sentiment: "neutral",
	Flagged:   false,
	Reasons:   nil,
	Confidence: broker.Confidence{
		Sentiment: 0.5,
		Flagged:   0.5,
	},
}

// Config is the analyzer client's dial configuration.
type Config struct {
	BaseURL      string
	SharedSecret string
	Timeout      time.Duration
}

// Client calls the analyzer's /moderate and /sentiment endpoints.
type Client struct {
	cfg Config
	hc  *http.Client
}

// New builds a Client with a dedicated http.Client bounded by cfg.Timeout.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{cfg: cfg, hc: &http.Client{Timeout: cfg.Timeout}}
}

type moderateRequest struct {
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

type moderateResponse struct {
	Flagged    bool       `json:"flagged"`
	Reasons    []string   `json:"reasons"`
	Confidence float64    `json:"confidence"`
}

type sentimentResponse struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// Moderate calls /moderate then /sentiment and combines both
// responses into a single verdict. On any transport, status, or
// decode error it returns Default with the error, so the caller can
// log and proceed with Default regardless.
func (c *Client) Moderate(ctx context.Context, messageID, body string) (broker.Moderation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	flagged, reasons, flagConf, err := c.moderate(ctx, messageID, body)
	if err != nil {
		return Default, err
	}
	sentiment, sentConf, err := c.sentiment(ctx, messageID, body)
	if err != nil {
		return Default, err
	}

	return broker.Moderation{
		Sentiment: sentiment,
		Flagged:   flagged,
		Reasons:   reasons,
		Confidence: broker.Confidence{
			Sentiment: sentConf,
			Flagged:   flagConf,
		},
	}, nil
}

func (c *Client) moderate(ctx context.Context, messageID, body string) (bool, []string, float64, error) {
	var resp moderateResponse
	if err := c.post(ctx, "/moderate", moderateRequest{Text: body, MessageID: messageID}, &resp); err != nil {
		return false, nil, 0, err
	}
	return resp.Flagged, resp.Reasons, resp.Confidence, nil
}

func (c *Client) sentiment(ctx context.Context, messageID, body string) (string, float64, error) {
	var resp sentimentResponse
	if err := c.post(ctx, "/sentiment", moderateRequest{Text: body, MessageID: messageID}, &resp); err != nil {
		return "", 0, err
	}
	return resp.Sentiment, resp.Confidence, nil
}

func (c *Client) post(ctx context.Context, path string, payload, dest interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.SharedSecret != "" {
		req.Header.Set("X-Service-Secret", c.cfg.SharedSecret)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("analyzer %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
