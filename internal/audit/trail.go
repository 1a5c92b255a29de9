// Package audit records query lifecycle events to a Redis Stream so the
// orchestration step sequence stays reconstructable after the fact.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is one recorded state transition of a query.
type Event struct {
	RequestID  string    `json:"request_id"`
	SessionKey string    `json:"session_key"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const streamPrefix = "scholar:query:"

// Trail is a Redis Streams audit log. A nil *Trail is a valid no-op, so
// the engine runs unchanged without Redis.
type Trail struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewTrail connects to Redis and returns a trail.
func NewTrail(redisURL string, logger *zap.Logger) (*Trail, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Trail{rdb: rdb, logger: logger}, nil
}

// Record appends an event to the request's stream. Failures are logged and
// swallowed; the audit trail never fails a query.
func (t *Trail) Record(ctx context.Context, ev Event) {
	if t == nil {
		return
	}
	ev.Timestamp = time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	stream := streamPrefix + ev.RequestID
	if err := t.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		t.logger.Warn("audit record failed",
			zap.String("request", ev.RequestID),
			zap.Error(err))
	}
}

// Replay returns the recorded events for a request in order.
func (t *Trail) Replay(ctx context.Context, requestID string) ([]Event, error) {
	if t == nil {
		return nil, nil
	}
	msgs, err := t.rdb.XRange(ctx, streamPrefix+requestID, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", requestID, err)
	}

	var events []Event
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if json.Unmarshal([]byte(data), &ev) == nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Close shuts down the Redis connection.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	return t.rdb.Close()
}
