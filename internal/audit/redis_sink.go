package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultStreamKey    = "geogate:audit:events"
	DefaultStreamMaxLen = 10000

	redisEmitTimeout = 2 * time.Second
)

// RedisSink appends events to a capped Redis stream so that every node of a
// shared deployment reports to one place.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStreamKey
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.client == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn("audit: encode event", "error", err)
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	// The request context may already be done when a handler returns.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisEmitTimeout)
	defer cancel()

	err = s.client.XAdd(opCtx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"reason": event.Reason,
			"ip":     event.IP,
			"event":  payload,
		},
	}).Err()
	if err != nil {
		log.Warn("audit: publish event to redis", "stream", s.stream, "error", err)
	}
}
