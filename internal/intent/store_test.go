package intent

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLinkAcceptsAbandonedIntents(t *testing.T) {
	require.ElementsMatch(t, []string{"created", "abandoned"}, LinkableStatuses)
	require.NotContains(t, LinkableStatuses, string(StatusLinked))
	require.Contains(t, linkSQL, "status = ANY($4)")
}

func TestMarkAbandonedSkipsVerifiedCheckouts(t *testing.T) {
	require.Contains(t, markAbandonedSQL, "NOT EXISTS")
	require.Contains(t, markAbandonedSQL, "cs.intent_id = order_intents.id")
	require.Contains(t, markAbandonedSQL, "cs.state = ANY($4)")
	require.ElementsMatch(t, []string{"PAYMENT_CALLBACK_RECEIVED", "ORDERS_CREATING"}, InFlightSessionStates)
}

func TestStoreRequiresPool(t *testing.T) {
	ctx := context.Background()
	var s PGStore
	_, err := s.Create(ctx, Intent{UserID: "u1"})
	require.Error(t, err)
	require.Error(t, s.Link(ctx, uuid.New(), nil))
	_, err = s.MarkAbandoned(ctx, time.Now())
	require.Error(t, err)
}
