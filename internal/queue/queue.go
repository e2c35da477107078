package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is set by the worker; the first delivery is attempt 1.
	Attempt int
}

// NewJSONTask encodes v as the task payload.
func NewJSONTask(kind, idempotencyKey string, v any) (Task, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Task{}, fmt.Errorf("queue: encode %s payload: %w", kind, err)
	}
	return Task{Kind: kind, Payload: raw, IdempotencyKey: idempotencyKey}, nil
}

// Decode unmarshals the JSON payload into dst.
func (t Task) Decode(dst any) error {
	return json.Unmarshal(t.Payload, dst)
}

type keys struct {
	prefix string
	kind   string
}

func (k keys) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix + ":queue"
}

func (k keys) ready() string      { return k.base() + ":" + k.kind }
func (k keys) processing() string { return k.base() + ":" + k.kind + ":processing" }
func (k keys) dlq() string        { return k.base() + ":" + k.kind + ":dlq" }
func (k keys) dedup(key string) string {
	return k.base() + ":dedup:" + k.kind + ":" + key
}

func validKind(kind string) bool {
	if kind == "" {
		return false
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return false
		}
	}
	return true
}

type message struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
	LastError   string `json:"last_error,omitempty"`
}

func (m message) encode() (string, error) {
	raw, err := json.Marshal(m)
	return string(raw), err
}

func decodeMessage(raw string) (message, error) {
	var m message
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue schedules the task. Tasks sharing an idempotency key are enqueued
// once per dedup window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	if !validKind(t.Kind) {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	k := keys{prefix: e.Prefix, kind: t.Kind}
	msg := message{
		Kind:        t.Kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, k.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	raw, err := msg.encode()
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// Worker consumes tasks of one kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	RetryBase         time.Duration
	RetryJitter       float64
	Handler           func(context.Context, Task) error
	Logger            zerolog.Logger
}

// Run processes due tasks until ctx is cancelled. In-flight tasks sit in a
// processing set and are redelivered when their visibility deadline passes.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	if !validKind(w.Kind) {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	k := keys{prefix: w.Prefix, kind: w.Kind}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeue := time.NewTicker(time.Second)
	defer requeue.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeue.C:
			if err := w.requeueExpired(ctx, k); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		raw, msg, ok, err := w.claim(ctx, k)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(poll):
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()
			task := Task{Kind: msg.Kind, Payload: msg.Payload, IdempotencyKey: msg.Key, MaxAttempts: msg.MaxAttempts, Attempt: msg.Attempt}
			if herr := w.Handler(ctx, task); herr != nil {
				w.fail(context.WithoutCancel(ctx), k, raw, msg, herr)
				return
			}
			w.ack(context.WithoutCancel(ctx), k, raw, msg)
		}()
	}
}

// claim moves the earliest due task into the processing set.
func (w Worker) claim(ctx context.Context, k keys) (string, message, bool, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, k.ready(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now), Count: 1}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", message{}, false, err
	}
	if len(due) == 0 {
		return "", message{}, false, nil
	}
	removed, err := w.R.ZRem(ctx, k.ready(), due[0]).Result()
	if err != nil {
		return "", message{}, false, err
	}
	if removed == 0 {
		// another worker claimed it
		return "", message{}, false, nil
	}
	msg, err := decodeMessage(due[0])
	if err != nil {
		w.Logger.Error().Err(err).Str("kind", k.kind).Msg("queue_message_corrupt")
		return "", message{}, false, nil
	}
	msg.Attempt++
	raw, err := msg.encode()
	if err != nil {
		return "", message{}, false, err
	}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	deadline := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return "", message{}, false, err
	}
	return raw, msg, true, nil
}

func (w Worker) fail(ctx context.Context, k keys, raw string, msg message, cause error) {
	_ = w.R.ZRem(ctx, k.processing(), raw).Err()
	msg.LastError = cause.Error()
	log := w.Logger.Warn().Err(cause).Str("kind", msg.Kind).Int("attempt", msg.Attempt)
	if msg.Attempt >= msg.MaxAttempts {
		encoded, err := msg.encode()
		if err != nil {
			return
		}
		_ = w.R.LPush(ctx, k.dlq(), encoded).Err()
		if msg.Key != "" {
			_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
		}
		QueueProcessedTotal.WithLabelValues(msg.Kind, "dlq").Inc()
		if n, err := w.R.LLen(ctx, k.dlq()).Result(); err == nil {
			QueueDLQSize.WithLabelValues(msg.Kind).Set(float64(n))
		}
		log.Msg("queue_task_dead_lettered")
		return
	}
	base := w.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	msg.AvailableAt = time.Now().Add(resilience.Backoff(base, msg.Attempt, w.RetryJitter)).UnixNano()
	encoded, err := msg.encode()
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	QueueProcessedTotal.WithLabelValues(msg.Kind, "retry").Inc()
	log.Msg("queue_task_retry")
}

func (w Worker) ack(ctx context.Context, k keys, raw string, msg message) {
	_ = w.R.ZRem(ctx, k.processing(), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
	}
	QueueProcessedTotal.WithLabelValues(msg.Kind, "ok").Inc()
}

func (w Worker) requeueExpired(ctx context.Context, k keys) error {
	now := fmt.Sprint(time.Now().UnixNano())
	expired, err := w.R.ZRangeByScore(ctx, k.processing(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, k.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := msg.encode()
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
	if depth, err := w.R.ZCard(ctx, k.ready()).Result(); err == nil {
		QueueDepth.WithLabelValues(k.kind).Set(float64(depth))
	}
	return nil
}

// DeadLetters returns up to limit raw dead-lettered messages, newest first.
func (e Enqueuer) DeadLetters(ctx context.Context, kind string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.R.LRange(ctx, keys{prefix: e.Prefix, kind: kind}.dlq(), 0, limit-1).Result()
}
