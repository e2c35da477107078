package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/queue"
)

// TaskOrderConfirmation is the queue kind for order confirmation emails.
const TaskOrderConfirmation = "email:order_confirmation"

// Enqueuer publishes background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// EmailNotifier turns purchase.completed events into confirmation email tasks.
type EmailNotifier struct {
	Queue       Enqueuer
	Enabled     bool
	MaxAttempts int
}

// Notify implements events.Notifier.
func (n EmailNotifier) Notify(ctx context.Context, event events.Event) error {
	if !n.Enabled || n.Queue == nil || event.Topic != events.TopicPurchaseCompleted {
		return nil
	}
	var purchase events.PurchaseCompleted
	if err := json.Unmarshal(event.Payload, &purchase); err != nil {
		return fmt.Errorf("email notify: decode payload: %w", err)
	}
	if strings.TrimSpace(purchase.Email) == "" {
		return nil
	}
	task, err := queue.NewJSONTask(TaskOrderConfirmation, event.ID.String(), purchase)
	if err != nil {
		return err
	}
	task.MaxAttempts = n.MaxAttempts
	return n.Queue.Enqueue(ctx, task)
}

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// EmailHandler renders and sends queued confirmation emails.
type EmailHandler struct {
	Sender Sender
}

// Handle is a queue.Worker handler for TaskOrderConfirmation.
func (h EmailHandler) Handle(ctx context.Context, t queue.Task) error {
	if h.Sender == nil {
		return fmt.Errorf("email handler: sender not configured")
	}
	var purchase events.PurchaseCompleted
	if err := t.Decode(&purchase); err != nil {
		return fmt.Errorf("email handler: decode task: %w", err)
	}
	return h.Sender.Send(ctx, confirmationMessage(purchase))
}

func confirmationMessage(p events.PurchaseCompleted) Message {
	var b strings.Builder
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	fmt.Fprintf(&b, "Thanks for your purchase. Payment reference: %s\n\n", p.GatewayOrderID)
	for _, item := range p.Items {
		fmt.Fprintf(&b, "  %s x%d  %s\n", item.SKU, item.Quantity, formatAmount(item.Price*int64(item.Quantity)))
	}
	fmt.Fprintf(&b, "\nTotal paid: %s %s\n", strings.ToUpper(p.Currency), formatAmount(p.Total))
	if len(p.OrderIDs) > 1 {
		fmt.Fprintf(&b, "Your items ship as %d separate orders.\n", len(p.OrderIDs))
	}
	return Message{
		To:      p.Email,
		Subject: "Order confirmed",
		Body:    b.String(),
	}
}

func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
