package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/queue"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

// TaskConversion is the queue kind for conversion reports.
const TaskConversion = "analytics:conversion"

// Conversion event names.
const (
	EventPurchase         = "Purchase"
	EventInitiateCheckout = "InitiateCheckout"
)

// Enqueuer publishes background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Content is one purchased product in a conversion report.
type Content struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Price    string `json:"item_price"`
}

// UserData carries hashed customer identifiers.
type UserData struct {
	Email string `json:"em,omitempty"`
	Phone string `json:"ph,omitempty"`
}

// Conversion is the body posted to the conversion endpoint.
type Conversion struct {
	Event    string    `json:"event"`
	EventID  string    `json:"event_id"`
	Value    string    `json:"value"`
	Currency string    `json:"currency"`
	Contents []Content `json:"contents"`
	User     UserData  `json:"user"`
}

// NewConversion builds a conversion report from a completed purchase.
// Customer identifiers are normalized and SHA-256 hashed.
func NewConversion(eventID string, p events.PurchaseCompleted) Conversion {
	return buildConversion(EventPurchase, eventID, p.Total, p.Currency, p.Items, p.Email, p.Phone)
}

// NewInitiateConversion builds a conversion report from a started checkout.
func NewInitiateConversion(eventID string, c events.CheckoutInitiated) Conversion {
	return buildConversion(EventInitiateCheckout, eventID, c.Total, c.Currency, c.Items, c.Email, c.Phone)
}

func buildConversion(name, eventID string, total int64, currency string, items []events.PurchasedItem, email, phone string) Conversion {
	c := Conversion{
		Event:    name,
		EventID:  eventID,
		Value:    majorUnits(total),
		Currency: strings.ToUpper(currency),
		Contents: make([]Content, 0, len(items)),
	}
	for _, item := range items {
		c.Contents = append(c.Contents, Content{ID: item.ProductID, Quantity: item.Quantity, Price: majorUnits(item.Price)})
	}
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		c.User.Email = common.Sha256Hex(email)
	}
	if phone = digitsOnly(phone); phone != "" {
		c.User.Phone = common.Sha256Hex(phone)
	}
	return c
}

func majorUnits(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ConversionNotifier queues a conversion report for every started checkout
// and every completed purchase.
type ConversionNotifier struct {
	Queue   Enqueuer
	Enabled bool
	Logger  zerolog.Logger
}

// Notify implements events.Notifier. Reporting is best effort: failures are
// logged and never surface to the checkout flow.
func (n ConversionNotifier) Notify(ctx context.Context, event events.Event) error {
	if !n.Enabled || n.Queue == nil {
		return nil
	}
	eventID := event.ID.String()
	var (
		conv Conversion
		err  error
	)
	switch event.Topic {
	case events.TopicPurchaseCompleted:
		var p events.PurchaseCompleted
		if err = json.Unmarshal(event.Payload, &p); err == nil {
			conv = NewConversion(eventID, p)
		}
	case events.TopicCheckoutInitiated:
		var c events.CheckoutInitiated
		if err = json.Unmarshal(event.Payload, &c); err == nil {
			conv = NewInitiateConversion(eventID, c)
		}
	default:
		return nil
	}
	if err != nil {
		n.Logger.Warn().Err(err).Str("event_id", eventID).Str("topic", event.Topic).Msg("conversion_payload_invalid")
		return nil
	}
	task, err := queue.NewJSONTask(TaskConversion, eventID, conv)
	if err == nil {
		err = n.Queue.Enqueue(ctx, task)
	}
	if err != nil {
		n.Logger.Warn().Err(err).Str("event_id", eventID).Str("topic", event.Topic).Msg("conversion_enqueue_failed")
	}
	return nil
}

// ConversionSender posts queued conversion reports to the tracking endpoint.
type ConversionSender struct {
	Endpoint    string
	AccessToken string
	Client      resilience.HTTPClient
}

// Handle is a queue.Worker handler for TaskConversion.
func (s ConversionSender) Handle(ctx context.Context, t queue.Task) error {
	var c Conversion
	if err := t.Decode(&c); err != nil {
		return fmt.Errorf("conversion: decode task: %w", err)
	}
	return s.Send(ctx, c)
}

// Send posts a single conversion report.
func (s ConversionSender) Send(ctx context.Context, c Conversion) error {
	if s.Endpoint == "" {
		return errors.New("conversion: endpoint not configured")
	}
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	}
	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("conversion: endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
