package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/segment-engine/config"
)

const defaultMessengerAPIURL = "https://api.telegram.org"

// NotificationService sends one text to every recipient chat
type NotificationService interface {
	Notify(ctx context.Context, recipientIDs []string, text string) error
}

// NewNotificationService picks the messenger provider from configuration
func NewNotificationService(cfg config.MessengerConfig, logger *log.Logger) (NotificationService, error) {
	switch cfg.Provider {
	case "", "mock":
		return NewMockNotifier(logger), nil
	case "http":
		if cfg.Token == "" {
			return nil, fmt.Errorf("messenger token is required for the http provider")
		}
		return NewHTTPNotifier(cfg), nil
	}
	return nil, fmt.Errorf("unknown messenger provider %q", cfg.Provider)
}

type MockNotifier struct {
	logger *log.Logger
}

func NewMockNotifier(logger *log.Logger) *MockNotifier {
	return &MockNotifier{logger: logger}
}

func (n *MockNotifier) Notify(_ context.Context, recipientIDs []string, text string) error {
	for _, id := range recipientIDs {
		n.logger.Printf("notification to %s: %s", id, text)
	}
	return nil
}

// HTTPNotifier posts to a bot API shaped like Telegram's sendMessage
type HTTPNotifier struct {
	cfg    config.MessengerConfig
	client *http.Client
}

func NewHTTPNotifier(cfg config.MessengerConfig) *HTTPNotifier {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultMessengerAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Notify sends to every recipient; one failed chat does not stop the rest
func (n *HTTPNotifier) Notify(ctx context.Context, recipientIDs []string, text string) error {
	url := strings.TrimRight(n.cfg.APIURL, "/") + "/bot" + n.cfg.Token + "/sendMessage"

	var errs []error
	for _, chatID := range recipientIDs {
		if err := n.send(ctx, url, sendMessageRequest{ChatID: chatID, Text: text}); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *HTTPNotifier) send(ctx context.Context, url string, msg sendMessageRequest) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("messenger http status: %d", resp.StatusCode)
	}
	return nil
}
