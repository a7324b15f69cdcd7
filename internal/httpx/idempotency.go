package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-stock/internal/redisx"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// Idempotency is satisfied by *redisx.Claims.
type Idempotency interface {
	Claim(ctx context.Context, key string) (bool, error)
	Done(ctx context.Context, key string, result []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Result(ctx context.Context, key string) ([]byte, bool, error)
}

type storedResponse struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

// once runs fn at most once per Idempotency-Key and replays the stored
// response for repeats. Failed attempts release the key so they can be retried.
func once(w http.ResponseWriter, r *http.Request, idem Idempotency, log *zap.Logger, scope string, fn func() (int, any, error)) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if idem == nil || key == "" {
		code, body, err := fn()
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, code, body)
		return
	}
	key = scope + ":" + key
	ctx := r.Context()

	fresh, err := idem.Claim(ctx, key)
	if err != nil {
		log.Warn("idempotency store unavailable", zap.Error(err))
		fresh = true
	}
	if !fresh {
		b, pending, err := idem.Result(ctx, key)
		switch {
		case err != nil:
			writeError(w, log, err)
		case pending || len(b) == 0:
			writeJSON(w, http.StatusConflict, errorBody{Error: "request with this idempotency key is in progress"})
		default:
			var sr storedResponse
			if err := json.Unmarshal(b, &sr); err != nil {
				writeError(w, log, err)
				return
			}
			w.Header().Set("Idempotent-Replay", "true")
			writeJSON(w, sr.Code, sr.Body)
		}
		return
	}

	code, body, err := fn()
	if err != nil {
		if rerr := idem.Release(ctx, key); rerr != nil {
			log.Warn("idempotency release failed", zap.Error(rerr))
		}
		writeError(w, log, err)
		return
	}
	raw, err := json.Marshal(body)
	if err == nil {
		stored, _ := json.Marshal(storedResponse{Code: code, Body: raw})
		if derr := idem.Done(ctx, key, stored, redisx.TTLIdempotency); derr != nil {
			log.Warn("idempotency store failed", zap.Error(derr))
		}
	}
	writeJSON(w, code, body)
}
