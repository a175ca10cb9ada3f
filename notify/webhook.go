package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/aluiziolira/go-resale-estimator/ledger"
)

const (
	// Confirmation is sent back for every registered item.
	Confirmation = "商品名を登録しました！"

	// RequesterPrefix marks records registered from chat.
	RequesterPrefix = "LINE:"

	maxWebhookBody = 1 << 20
)

// Webhook registers incoming chat text messages as ledger records.
type Webhook struct {
	secret  string
	store   *ledger.Store
	replier Replier
	logger  *slog.Logger
}

// NewWebhook returns a handler verifying requests against secret.
func NewWebhook(secret string, store *ledger.Store, replier Replier, logger *slog.Logger) *Webhook {
	if replier == nil {
		replier = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{secret: secret, store: store, replier: replier, logger: logger}
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(rw, r.Body, maxWebhookBody)
	cb, err := webhook.ParseRequest(w.secret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			http.Error(rw, "signature error", http.StatusBadRequest)
			return
		}
		w.logger.Warn("malformed webhook payload", slog.Any("error", err))
		http.Error(rw, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, event := range cb.Events {
		msg, ok := event.(webhook.MessageEvent)
		if !ok {
			continue
		}
		text, ok := msg.Message.(webhook.TextMessageContent)
		if !ok {
			continue
		}
		w.register(r.Context(), msg.ReplyToken, sourceUser(msg.Source), text.Text)
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

func sourceUser(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}

func (w *Webhook) register(ctx context.Context, replyToken, userID, text string) {
	record, err := w.store.Add(ledger.Entry{
		ItemName:  strings.TrimSpace(text),
		Requester: RequesterPrefix + userID,
	})
	if err != nil {
		w.logger.Warn("skipping chat message", slog.String("user", userID), slog.Any("error", err))
		return
	}
	w.logger.Info("registered chat item",
		slog.Int("id", record.ID),
		slog.String("item", record.ItemName),
		slog.String("requester", record.Requester),
	)

	if replyToken == "" {
		return
	}
	if err := w.replier.Reply(ctx, replyToken, Confirmation); err != nil {
		w.logger.Warn("chat reply failed", slog.Int("id", record.ID), slog.Any("error", err))
	}
}
