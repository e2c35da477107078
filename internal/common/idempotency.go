package common

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	idemHeader  = "Idempotency-Key"
	idemPending = "pending"
)

// Idem guards write endpoints with an Idempotency-Key header. The first request
// for a key runs; later ones get 409 with the original status once it is known.
// A key whose request ended in a 5xx is released so the client can retry it.
type Idem struct {
	R   redis.Cmdable
	TTL time.Duration
}

// idemKey scopes the client key to the caller and route.
func idemKey(r *http.Request, key string) string {
	userID, _ := UserID(r.Context())
	return "idem:" + Sha256Hex(userID, r.Method, r.URL.Path, key)
}

func (i Idem) Middleware(next http.Handler) http.Handler {
	ttl := i.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(idemHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := idemKey(r, header)
		claimed, err := i.R.SetNX(ctx, key, idemPending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store unavailable", nil)
			return
		}
		if !claimed {
			i.conflict(ctx, w, key)
			return
		}

		rec := &firstStatus{ResponseWriter: w}
		defer func() {
			// the request context may already be cancelled here
			bg := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError || rec.status == 0 {
				_ = i.R.Del(bg, key).Err()
				return
			}
			_ = i.R.SetArgs(bg, key, strconv.Itoa(rec.status), redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
		}()
		next.ServeHTTP(rec, r)
	})
}

func (i Idem) conflict(ctx context.Context, w http.ResponseWriter, key string) {
	val, err := i.R.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store unavailable", nil)
		return
	}
	if status, convErr := strconv.Atoi(val); convErr == nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", map[string]any{"status": status})
		return
	}
	JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this key is still running", nil)
}

// firstStatus remembers the first status written.
type firstStatus struct {
	http.ResponseWriter
	status int
}

func (f *firstStatus) WriteHeader(code int) {
	if f.status == 0 {
		f.status = code
	}
	f.ResponseWriter.WriteHeader(code)
}

func (f *firstStatus) Write(b []byte) (int, error) {
	if f.status == 0 {
		f.status = http.StatusOK
	}
	return f.ResponseWriter.Write(b)
}
