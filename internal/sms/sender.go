package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender delivers a short text message to a phone number. Delivery is an
// external-gateway concern; implementations must not retry indefinitely.
type Sender interface {
	Send(ctx context.Context, toNumber string, text string) error
}

// GatewaySender posts messages to a JSON webhook gateway.
type GatewaySender struct {
	url    string
	apiKey string
	sender string
	client *http.Client
}

type gatewayRequest struct {
	To     string `json:"to"`
	From   string `json:"from,omitempty"`
	Text   string `json:"text"`
	APIKey string `json:"apiKey,omitempty"`
}

func (s *GatewaySender) Send(ctx context.Context, toNumber string, text string) error {
	payload, err := json.Marshal(gatewayRequest{
		To:     toNumber,
		From:   s.sender,
		Text:   text,
		APIKey: s.apiKey,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func NewGatewaySender(url, apiKey, sender string) *GatewaySender {
	return &GatewaySender{
		url:    url,
		apiKey: apiKey,
		sender: sender,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NullSender drops every message. Used when no gateway is configured.
type NullSender struct{}

func (NullSender) Send(ctx context.Context, toNumber string, text string) error {
	return nil
}
