package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// BillingEvent is the fire-and-forget message pushed to the notification
// queue when an invoice is issued or an entry is voided. Downstream workers
// (SMS/WhatsApp/email) consume the queue; the core never waits on them.
type BillingEvent struct {
	Type      string    `json:"type"` // invoice_issued | entry_voided | payment_recorded
	AccountID string    `json:"accountId"`
	InvoiceID int64     `json:"invoiceId,omitempty"`
	EntryID   int64     `json:"entryId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventInvoiceIssued   = "invoice_issued"
	EventEntryVoided     = "entry_voided"
	EventPaymentRecorded = "payment_recorded"
)

type Notifier interface {
	Notify(ctx context.Context, event BillingEvent) error
}

const notifyQueueKey = "billing:events"

// RedisNotifier pushes events onto a Redis list. A nil client degrades to a
// logged no-op so the core keeps working without Redis.
type RedisNotifier struct {
	redis *redis.Client
}

func NewRedisNotifier(redis *redis.Client) *RedisNotifier {
	return &RedisNotifier{redis: redis}
}

func (n *RedisNotifier) Notify(ctx context.Context, event BillingEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if n.redis == nil {
		log.Printf("[NOTIFY] redis unavailable, dropping event: %s", payload)
		return nil
	}
	return n.redis.LPush(ctx, notifyQueueKey, string(payload)).Err()
}
