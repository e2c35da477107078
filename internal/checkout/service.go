package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/coupon"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/intent"
	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/order"
	"github.com/noah-isme/storefront-checkout/internal/payment"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/user"
)

// CouponResolver turns a coupon code into rules applicable to a cart.
type CouponResolver interface {
	Resolve(ctx context.Context, code string, items []pricing.LineMeta, subtotal pricing.Money) (pricing.CouponRules, error)
}

// IntentStore records what the user is about to buy.
type IntentStore interface {
	Create(ctx context.Context, in intent.Intent) (intent.Intent, error)
	Link(ctx context.Context, id uuid.UUID, orderIDs []uuid.UUID) error
}

// SessionStore persists checkout sessions.
type SessionStore interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, gatewayOrderID string) (Record, error)
	SetState(ctx context.Context, gatewayOrderID string, from, to State) error
	MarkLinked(ctx context.Context, gatewayOrderID string, orderIDs []uuid.UUID) error
}

// OrderCreator persists brand orders as one unit.
type OrderCreator interface {
	CreateBatch(ctx context.Context, drafts []order.Draft) ([]order.Order, error)
}

// Locker serializes work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// CartSource loads priced lines.
type CartSource interface {
	Lines(ctx context.Context, userID string) ([]cart.Line, error)
	Product(ctx context.Context, productID string, variantID *string, quantity int) (cart.Line, error)
}

// UserSource loads the buyer and checks address ownership.
type UserSource interface {
	Get(ctx context.Context, id string) (user.Customer, error)
	HasAddress(ctx context.Context, userID, addressID string) (bool, error)
}

// Service orchestrates pricing, payment initiation and order creation.
type Service struct {
	Coupons   CouponResolver
	Intents   IntentStore
	Sessions  SessionStore
	Orders    OrderCreator
	Gateway   payment.Gateway
	Locker    Locker
	Events    Emitter
	Carts     CartSource
	Users     UserSource
	Retrier   Retrier
	Partition PartitionOptions
	Policy    pricing.Policy
	Currency  string
	LockTTL   time.Duration
	Logger    zerolog.Logger
}

// Quote is a priced session.
type Quote struct {
	Breakdown     pricing.Breakdown `json:"breakdown"`
	CouponApplied string            `json:"couponApplied,omitempty"`
	CouponDropped string            `json:"couponDropped,omitempty"`
}

// Initiation is the result of opening a payment for a session.
type Initiation struct {
	IntentID      uuid.UUID            `json:"intentId"`
	GatewayOrder  payment.GatewayOrder `json:"gatewayOrder"`
	Breakdown     pricing.Breakdown    `json:"breakdown"`
	CouponApplied string               `json:"couponApplied,omitempty"`
	CouponDropped string               `json:"couponDropped,omitempty"`
	State         State                `json:"-"`
}

// PaymentCallback is the client's report of a successful gateway payment.
type PaymentCallback struct {
	UserID string
	payment.PaymentProof
}

// Outcome is the result of a completed payment.
type Outcome struct {
	IntentID  uuid.UUID         `json:"intentId"`
	OrderIDs  []uuid.UUID       `json:"orderIds"`
	Groups    []BrandOrderGroup `json:"groups"`
	Breakdown pricing.Breakdown `json:"breakdown"`
	State     State             `json:"-"`
	// LinkErr is set when orders exist but the intent could not be linked to them.
	LinkErr error `json:"-"`
}

// LoadSession gathers the buyer, address and lines for a request. A missing
// user or an address the user does not own yields a session that fails
// Validate rather than an error.
func (s *Service) LoadSession(ctx context.Context, userID string, req SessionRequest) (Session, error) {
	sess := Session{UserID: userID, CouponCode: strings.TrimSpace(req.CouponCode)}
	if s.Users != nil && userID != "" {
		customer, err := s.Users.Get(ctx, userID)
		switch {
		case err == nil:
			sess.User = &customer
		case !errors.Is(err, user.ErrNotFound):
			return Session{}, err
		}
		if req.AddressID != "" {
			ok, err := s.Users.HasAddress(ctx, userID, req.AddressID)
			if err != nil {
				return Session{}, err
			}
			if ok {
				sess.AddressID = req.AddressID
			}
		}
	}
	if s.Carts == nil {
		return sess, nil
	}
	if req.BuyNow != nil {
		line, err := s.Carts.Product(ctx, req.BuyNow.ProductID, req.BuyNow.VariantID, req.BuyNow.Quantity)
		if err != nil {
			return Session{}, err
		}
		sess.BuyNow = &line
		return sess, nil
	}
	items, err := s.Carts.Lines(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	sess.Items = items
	return sess, nil
}

// Quote prices the session without side effects.
func (s *Service) Quote(ctx context.Context, sess Session) (Quote, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.Quote")
	defer span.End()
	lines := sess.Lines()
	if len(lines) == 0 {
		return Quote{}, &PreconditionError{Err: ErrEmptyCart}
	}
	return s.price(ctx, lines, sess.CouponCode)
}

func (s *Service) price(ctx context.Context, lines []CartLine, code string) (Quote, error) {
	amounts, metas := cart.Amounts(lines)
	var subtotal pricing.Money
	for _, a := range amounts {
		subtotal += a
	}

	var (
		q     Quote
		rules *pricing.CouponRules
	)
	if code != "" && s.Coupons != nil {
		resolved, err := s.Coupons.Resolve(ctx, code, metas, subtotal)
		switch {
		case err == nil:
			rules = &resolved
			q.CouponApplied = resolved.Code
		case isCouponRejection(err):
			q.CouponDropped = coupon.Normalize(code)
			s.logger(ctx).Info().Err(err).Str("coupon", q.CouponDropped).Msg("checkout_coupon_dropped")
		default:
			return Quote{}, fmt.Errorf("resolve coupon: %w", err)
		}
	}
	q.Breakdown = s.Policy.CalculateTotalPriceWithCoupon(amounts, rules, metas).WithMRPDiscount(cart.Savings(lines))
	return q, nil
}

func isCouponRejection(err error) bool {
	return errors.Is(err, coupon.ErrNotFound) ||
		errors.Is(err, coupon.ErrNotApplicable) ||
		errors.Is(err, coupon.ErrMinimumSpendUnmet) ||
		errors.Is(err, coupon.ErrCouponExpired)
}

func recordCoupon(q Quote) {
	if obs.CouponAppliedTotal == nil {
		return
	}
	switch {
	case q.CouponApplied != "":
		obs.CouponAppliedTotal.WithLabelValues("applied").Inc()
	case q.CouponDropped != "":
		obs.CouponAppliedTotal.WithLabelValues("dropped").Inc()
	}
}

func recordInitiation(result string) {
	if obs.CheckoutInitiationsTotal != nil {
		obs.CheckoutInitiationsTotal.WithLabelValues(result).Inc()
	}
}

// Initiate prices the session, records an intent and opens a gateway session.
// Nothing is persisted when a precondition fails. Every successful call
// creates a new intent.
func (s *Service) Initiate(ctx context.Context, sess Session) (Initiation, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.Initiate")
	defer span.End()
	log := s.logger(ctx)

	if err := sess.Validate(); err != nil {
		recordInitiation("precondition")
		return Initiation{State: StateNone}, err
	}
	lines := sess.Lines()
	q, err := s.price(ctx, lines, sess.CouponCode)
	if err != nil {
		recordInitiation("error")
		span.RecordError(err)
		return Initiation{State: StateNone}, err
	}
	recordCoupon(q)
	if q.Breakdown.Total <= 0 {
		recordInitiation("precondition")
		return Initiation{State: StateNone, Breakdown: q.Breakdown, CouponApplied: q.CouponApplied}, &PreconditionError{Err: ErrZeroTotal}
	}

	products := make([]intent.Product, 0, len(lines))
	for _, l := range lines {
		products = append(products, intent.Product{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity, Price: l.UnitPrice, SKU: l.SKU})
	}
	in, err := s.Intents.Create(ctx, intent.Intent{UserID: sess.UserID, Products: products, TotalAmount: q.Breakdown.Total})
	if err != nil {
		recordInitiation("error")
		span.RecordError(err)
		return Initiation{State: StateNone}, fmt.Errorf("create intent: %w", err)
	}
	out := Initiation{
		IntentID:      in.ID,
		Breakdown:     q.Breakdown,
		CouponApplied: q.CouponApplied,
		CouponDropped: q.CouponDropped,
		State:         StateIntentCreated,
	}
	span.SetAttributes(attribute.String("checkout.intent_id", in.ID.String()), attribute.Int64("checkout.total", q.Breakdown.Total))

	gwOrder, err := s.Gateway.CreateOrder(ctx, payment.OrderRequest{
		Amount:   q.Breakdown.Total,
		Currency: s.currency(),
		Receipt:  in.ID.String(),
		Notes:    map[string]string{"user_id": sess.UserID},
	})
	if err != nil {
		out.State = StateFailed
		recordInitiation("gateway_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway session failed")
		log.Warn().Err(err).Str("intent_id", in.ID.String()).Msg("checkout_gateway_failed")
		return out, &GatewayError{Provider: s.Gateway.Name(), Op: "create_order", Err: err}
	}
	out.GatewayOrder = gwOrder

	rec := Record{
		GatewayOrderID: gwOrder.ID,
		Provider:       gwOrder.Provider,
		IntentID:       in.ID,
		UserID:         sess.UserID,
		AddressID:      sess.AddressID,
		CouponCode:     q.CouponApplied,
		Currency:       gwOrder.Currency,
		State:          StateGatewaySessionOpen,
		Items:          lines,
		Breakdown:      q.Breakdown,
		Customer:       *sess.User,
	}
	if err := s.Sessions.Create(ctx, rec); err != nil {
		out.State = StateFailed
		recordInitiation("error")
		span.RecordError(err)
		return out, fmt.Errorf("persist checkout session: %w", err)
	}
	out.State = StateGatewaySessionOpen
	recordInitiation("ok")

	s.emit(ctx, events.TopicCheckoutInitiated, in.ID, events.CheckoutInitiated{
		IntentID:       in.ID,
		UserID:         sess.UserID,
		GatewayOrderID: gwOrder.ID,
		Provider:       gwOrder.Provider,
		Total:          q.Breakdown.Total,
		Currency:       gwOrder.Currency,
		CouponCode:     q.CouponApplied,
		Email:          sess.User.Email,
		Phone:          sess.User.Phone,
		Items:          purchasedItems(lines),
	})
	log.Info().Str("intent_id", in.ID.String()).Str("gateway_order_id", gwOrder.ID).Int64("total", q.Breakdown.Total).Msg("checkout_initiated")
	return out, nil
}

// CompletePayment verifies the gateway proof and turns the session into brand
// orders. Repeated callbacks for a linked session return the stored outcome.
func (s *Service) CompletePayment(ctx context.Context, cb PaymentCallback) (Outcome, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Service.CompletePayment")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.gateway_order_id", cb.GatewayOrderID))

	if err := s.Gateway.VerifyPayment(ctx, cb.PaymentProof); err != nil {
		span.RecordError(err)
		return Outcome{}, &GatewayError{Provider: s.Gateway.Name(), Op: "verify_payment", Err: err}
	}

	var out Outcome
	err := s.Locker.WithLock(ctx, "lock:checkout:"+cb.GatewayOrderID, s.lockTTL(), func(ctx context.Context) error {
		var err error
		out, err = s.complete(ctx, cb)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete payment failed")
	}
	return out, err
}

func (s *Service) complete(ctx context.Context, cb PaymentCallback) (Outcome, error) {
	log := s.logger(ctx)
	rec, err := s.Sessions.Get(ctx, cb.GatewayOrderID)
	if err != nil {
		return Outcome{}, err
	}
	if cb.UserID != "" && rec.UserID != cb.UserID {
		return Outcome{}, ErrSessionNotFound
	}

	groups, err := PartitionByBrand(rec.Items, rec.Breakdown, PartitionInput{
		UserID:         rec.UserID,
		AddressID:      rec.AddressID,
		GatewayOrderID: rec.GatewayOrderID,
		IntentID:       rec.IntentID,
		Options:        s.Partition,
	})
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{IntentID: rec.IntentID, Groups: groups, Breakdown: rec.Breakdown, State: rec.State}

	switch rec.State {
	case StateLinked:
		out.OrderIDs = rec.OrderIDs
		return out, nil
	case StateGatewaySessionOpen:
		if err := s.Sessions.SetState(ctx, rec.GatewayOrderID, StateGatewaySessionOpen, StatePaymentCallbackReceived); err != nil {
			return out, err
		}
		rec.State = StatePaymentCallbackReceived
	}
	// a session left mid-flight by a crashed request resumes from where it stopped
	if rec.State == StatePaymentCallbackReceived {
		if err := s.Sessions.SetState(ctx, rec.GatewayOrderID, StatePaymentCallbackReceived, StateOrdersCreating); err != nil {
			return out, err
		}
		rec.State = StateOrdersCreating
	}
	out.State = rec.State
	if rec.State != StateOrdersCreating {
		return out, fmt.Errorf("%w: session is %s", ErrInvalidTransition, rec.State)
	}

	drafts := Drafts(groups)
	attempts := 0
	retrier := s.Retrier
	onAttempt := retrier.OnAttempt
	retrier.OnAttempt = func(attempt int, err error) {
		attempts = attempt
		result := "ok"
		if err != nil {
			result = "error"
			log.Warn().Err(err).Int("attempt", attempt).Str("gateway_order_id", rec.GatewayOrderID).Msg("order_create_attempt_failed")
		}
		if obs.OrderCreateAttemptsTotal != nil {
			obs.OrderCreateAttemptsTotal.WithLabelValues(result).Inc()
		}
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
	}
	orders, err := RetryCreateOrder(ctx, retrier, func(ctx context.Context, _ int) ([]order.Order, error) {
		return s.Orders.CreateBatch(ctx, drafts)
	})
	if err != nil {
		if serr := s.Sessions.SetState(context.WithoutCancel(ctx), rec.GatewayOrderID, StateOrdersCreating, StateFailed); serr != nil {
			log.Error().Err(serr).Str("gateway_order_id", rec.GatewayOrderID).Msg("checkout_mark_failed")
		}
		out.State = StateFailed
		log.Error().Err(err).Int("attempts", attempts).Str("gateway_order_id", rec.GatewayOrderID).Msg("order_create_exhausted")
		return out, &OrderCreationError{Attempts: attempts, Err: err}
	}

	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	out.OrderIDs = ids

	if err := s.Intents.Link(ctx, rec.IntentID, ids); err != nil {
		out.LinkErr = err
		if obs.IntentLinkFailuresTotal != nil {
			obs.IntentLinkFailuresTotal.Inc()
		}
		log.Error().Err(err).Str("intent_id", rec.IntentID.String()).Msg("intent_link_failed")
	}
	if err := s.Sessions.MarkLinked(ctx, rec.GatewayOrderID, ids); err != nil {
		return out, fmt.Errorf("mark session linked: %w", err)
	}
	out.State = StateLinked

	s.emit(ctx, events.TopicPurchaseCompleted, rec.IntentID, purchaseCompleted(rec, ids))
	log.Info().Str("intent_id", rec.IntentID.String()).Int("orders", len(ids)).Msg("checkout_completed")
	return out, nil
}

// Drafts converts brand groups into order drafts.
func Drafts(groups []BrandOrderGroup) []order.Draft {
	drafts := make([]order.Draft, 0, len(groups))
	for _, g := range groups {
		d := order.Draft{
			BrandID:         g.BrandID,
			UserID:          g.UserID,
			AddressID:       g.AddressID,
			PaymentMethod:   g.PaymentMethod,
			GatewayOrderID:  g.GatewayOrderID,
			IntentID:        g.IntentID,
			TotalAmount:     g.TotalAmount,
			DiscountAmount:  g.DiscountAmount,
			DeliveryAmount:  g.DeliveryAmount,
			ShipmentOrderID: g.ShipmentOrderID,
			ShipmentID:      g.ShipmentID,
			Items:           make([]order.Line, 0, len(g.Items)),
		}
		for _, it := range g.Items {
			d.Items = append(d.Items, order.Line{
				ProductID:  it.ProductID,
				VariantID:  it.VariantID,
				SKU:        it.SKU,
				Price:      it.Price,
				Quantity:   it.Quantity,
				BrandID:    it.BrandID,
				CategoryID: it.CategoryID,
			})
		}
		drafts = append(drafts, d)
	}
	return drafts
}

func purchasedItems(lines []CartLine) []events.PurchasedItem {
	items := make([]events.PurchasedItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, events.PurchasedItem{ProductID: l.ProductID, SKU: l.SKU, BrandID: l.BrandID, Quantity: l.Quantity, Price: l.UnitPrice})
	}
	return items
}

func purchaseCompleted(rec Record, ids []uuid.UUID) events.PurchaseCompleted {
	items := purchasedItems(rec.Items)
	return events.PurchaseCompleted{
		IntentID:       rec.IntentID,
		GatewayOrderID: rec.GatewayOrderID,
		OrderIDs:       ids,
		UserID:         rec.UserID,
		Name:           rec.Customer.Name,
		Email:          rec.Customer.Email,
		Phone:          rec.Customer.Phone,
		Total:          rec.Breakdown.Total,
		Currency:       rec.Currency,
		Items:          items,
	}
}

// emit is fire-and-forget; the checkout outcome never depends on it.
func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.logger(ctx).Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID.String()).Msg("checkout_event_failed")
	}
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "INR"
	}
	return strings.ToUpper(s.Currency)
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 30 * time.Second
	}
	return s.LockTTL
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}
