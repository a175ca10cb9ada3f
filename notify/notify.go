// Package notify talks to the LINE messaging API and receives its webhook.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/aluiziolira/go-resale-estimator/config"
)

// DefaultEndpoint is the production messaging API base URL.
const DefaultEndpoint = "https://api.line.me"

// Notifier pushes a text message to a chat user.
type Notifier interface {
	Notify(ctx context.Context, to, text string) error
}

// Replier answers a webhook event using its reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// Client is satisfied by both LINE and Nop.
type Client interface {
	Notifier
	Replier
}

// Nop discards every message. It stands in when credentials are missing.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, string) error { return nil }

// Reply implements Replier.
func (Nop) Reply(context.Context, string, string) error { return nil }

// LINE sends push and reply messages through the messaging API.
type LINE struct {
	// WithContext stores ctx on the shared API client, so calls are serialised.
	mu  sync.Mutex
	api *messaging_api.MessagingApiAPI
}

// NewLINE builds a client for token. An empty endpoint means DefaultEndpoint;
// a nil httpClient gets a 10s timeout client.
func NewLINE(token, endpoint string, httpClient *http.Client) (*LINE, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	api, err := messaging_api.NewMessagingApiAPI(token,
		messaging_api.WithHTTPClient(httpClient),
		messaging_api.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create LINE client: %w", err)
	}
	return &LINE{api: api}, nil
}

// FromConfig returns a LINE client when both credentials are present and
// Nop otherwise.
func FromConfig(cfg *config.Config) (Client, error) {
	if !cfg.NotificationsEnabled() {
		return Nop{}, nil
	}
	return NewLINE(cfg.LineAccessToken, "", nil)
}

func textMessages(text string) []messaging_api.MessageInterface {
	return []messaging_api.MessageInterface{messaging_api.TextMessage{Text: text}}
}

// Notify pushes text to the user id to.
func (l *LINE) Notify(ctx context.Context, to, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: textMessages(text),
	}, "")
	if err != nil {
		return fmt.Errorf("LINE push: %w", err)
	}
	return nil
}

// Reply answers a webhook event.
func (l *LINE) Reply(ctx context.Context, replyToken, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   textMessages(text),
	})
	if err != nil {
		return fmt.Errorf("LINE reply: %w", err)
	}
	return nil
}
