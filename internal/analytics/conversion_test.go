package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/queue"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

type stubQueue struct {
	tasks []queue.Task
	err   error
}

func (q *stubQueue) Enqueue(_ context.Context, t queue.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func purchase() events.PurchaseCompleted {
	return events.PurchaseCompleted{
		IntentID: uuid.New(),
		Email:    "  Asha@Example.com ",
		Phone:    "+91 98765-43210",
		Total:    22_950,
		Currency: "inr",
		Items:    []events.PurchasedItem{{ProductID: "p1", Quantity: 2, Price: 5_025}},
	}
}

func TestNewConversionHashesIdentifiers(t *testing.T) {
	c := NewConversion("ev-1", purchase())
	require.Equal(t, EventPurchase, c.Event)
	require.Equal(t, "229.50", c.Value)
	require.Equal(t, "INR", c.Currency)
	require.Equal(t, []Content{{ID: "p1", Quantity: 2, Price: "50.25"}}, c.Contents)
	require.Equal(t, common.Sha256Hex("asha@example.com"), c.User.Email)
	require.Equal(t, common.Sha256Hex("919876543210"), c.User.Phone)
}

func TestConversionNotifierQueuesPurchase(t *testing.T) {
	q := &stubQueue{}
	raw, err := json.Marshal(purchase())
	require.NoError(t, err)
	ev := events.Event{ID: uuid.New(), Topic: events.TopicPurchaseCompleted, Payload: raw}

	n := ConversionNotifier{Queue: q, Enabled: true, Logger: zerolog.Nop()}
	require.NoError(t, n.Notify(context.Background(), ev))
	require.Len(t, q.tasks, 1)
	require.Equal(t, TaskConversion, q.tasks[0].Kind)

	var c Conversion
	require.NoError(t, q.tasks[0].Decode(&c))
	require.Equal(t, ev.ID.String(), c.EventID)
}

func TestConversionNotifierQueuesInitiation(t *testing.T) {
	q := &stubQueue{}
	raw, err := json.Marshal(events.CheckoutInitiated{
		IntentID: uuid.New(),
		Total:    22_950,
		Currency: "inr",
		Email:    "Asha@Example.com",
		Phone:    "+91 98765-43210",
		Items:    []events.PurchasedItem{{ProductID: "p1", Quantity: 2, Price: 5_025}},
	})
	require.NoError(t, err)
	ev := events.Event{ID: uuid.New(), Topic: events.TopicCheckoutInitiated, Payload: raw}

	n := ConversionNotifier{Queue: q, Enabled: true, Logger: zerolog.Nop()}
	require.NoError(t, n.Notify(context.Background(), ev))
	require.Len(t, q.tasks, 1)

	var c Conversion
	require.NoError(t, q.tasks[0].Decode(&c))
	require.Equal(t, EventInitiateCheckout, c.Event)
	require.Equal(t, ev.ID.String(), c.EventID)
	require.Equal(t, "229.50", c.Value)
	require.Equal(t, []Content{{ID: "p1", Quantity: 2, Price: "50.25"}}, c.Contents)
	require.Equal(t, common.Sha256Hex("asha@example.com"), c.User.Email)
	require.Equal(t, common.Sha256Hex("919876543210"), c.User.Phone)

	require.NoError(t, n.Notify(context.Background(), events.Event{ID: uuid.New(), Topic: "order.shipped", Payload: raw}))
	require.Len(t, q.tasks, 1)
}

func TestConversionNotifierSwallowsFailures(t *testing.T) {
	q := &stubQueue{err: errors.New("redis down")}
	raw, _ := json.Marshal(purchase())
	n := ConversionNotifier{Queue: q, Enabled: true, Logger: zerolog.Nop()}
	require.NoError(t, n.Notify(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicPurchaseCompleted, Payload: raw}))
	require.NoError(t, n.Notify(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicPurchaseCompleted, Payload: []byte(`not json`)}))
}

func TestConversionSenderPosts(t *testing.T) {
	var got Conversion
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := ConversionSender{
		Endpoint:    srv.URL,
		AccessToken: "tok",
		Client:      resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second},
	}
	task, err := queue.NewJSONTask(TaskConversion, "", NewConversion("ev-2", purchase()))
	require.NoError(t, err)
	require.NoError(t, s.Handle(context.Background(), task))
	require.Equal(t, "ev-2", got.EventID)
	require.Equal(t, "229.50", got.Value)
}

func TestConversionSenderReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`invalid pixel`))
	}))
	defer srv.Close()

	s := ConversionSender{Endpoint: srv.URL, Client: resilience.HTTPClient{Client: srv.Client()}}
	err := s.Send(context.Background(), Conversion{Event: EventPurchase})
	require.EqualError(t, err, "conversion: endpoint returned 400: invalid pixel")
}
