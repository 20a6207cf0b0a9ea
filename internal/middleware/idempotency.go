package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20 // 1 MB
)

// IdempotencyStore is the subset of jetstream.KeyValue the middleware uses.
// Entries expire through the bucket TTL.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// idempotencyEntry stores a cached HTTP response.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency deduplicates mutating requests carrying an Idempotency-Key
// header. A replayed response gets the Idempotent-Replayed header. Server
// errors are not stored, so the client can retry them.
func Idempotency(kv IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(headerIdempotencyKey)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := idempotencyKey(r.Method, r.URL.Path, header)

			entry, err := kv.Get(r.Context(), key)
			switch {
			case err == nil:
				var cached idempotencyEntry
				if err := json.Unmarshal(entry.Value(), &cached); err == nil {
					for k, vals := range cached.Headers {
						for _, v := range vals {
							w.Header().Add(k, v)
						}
					}
					w.Header().Set(headerReplayed, "true")
					w.WriteHeader(cached.StatusCode)
					_, _ = w.Write(cached.Body)
					return
				}
				slog.Warn("idempotency: corrupt cache entry", "key", key)
			case !errors.Is(err, jetstream.ErrKeyNotFound):
				slog.Warn("idempotency: lookup failed", "key", key, "error", err)
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}
			data, err := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			if _, err := kv.Put(context.WithoutCancel(r.Context()), key, data); err != nil {
				slog.Warn("idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

// idempotencyKey scopes the client key to the route and maps it onto the
// NATS KV key alphabet.
func idempotencyKey(method, path, clientKey string) string {
	d := xxhash.New()
	_, _ = d.WriteString(method)
	_, _ = d.WriteString(" ")
	_, _ = d.WriteString(path)
	_, _ = d.WriteString(" ")
	_, _ = d.WriteString(clientKey)
	return "idem." + strconv.FormatUint(d.Sum64(), 16)
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
