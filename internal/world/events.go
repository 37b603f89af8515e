package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/agent"
)

const (
	eventStream    = "town:events"
	eventStreamCap = 1000
)

// Event is a town happening pushed to viewers.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Kind      string    `json:"kind"` // "decision"
	AgentID   string    `json:"agent_id"`
	WorldTime time.Time `json:"world_time"`
	Location  string    `json:"location,omitempty"`
	Action    string    `json:"action"`
	Emoji     string    `json:"emoji,omitempty"`
	Target    string    `json:"target,omitempty"`
}

// DecisionEvent describes an applied decision.
func DecisionEvent(agentID, location string, worldTime time.Time, dec agent.Decision) Event {
	target := dec.TargetLocationID
	if target == "" {
		target = dec.TargetObjectID
	}
	return Event{
		Kind:      "decision",
		AgentID:   agentID,
		WorldTime: worldTime,
		Location:  location,
		Action:    dec.Action,
		Emoji:     dec.Emoji,
		Target:    target,
	}
}

// EventBus fans town events out through a capped Redis stream.
type EventBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewEventBus connects to Redis.
func NewEventBus(ctx context.Context, redisURL string, logger *zap.Logger) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &EventBus{rdb: rdb, logger: logger}, nil
}

// Publish appends an event to the stream.
func (b *EventBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: eventStreamCap,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", eventStream, err)
	}
	b.logger.Debug("published event",
		zap.String("kind", ev.Kind),
		zap.String("agent", ev.AgentID))
	return nil
}

// Subscribe streams events published after the call. An agentID filters to
// that agent; empty means all. Cancel the context to stop.
func (b *EventBus) Subscribe(ctx context.Context, agentID string) <-chan Event {
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			if ctx.Err() != nil {
				return
			}
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{eventStream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Debug("event read failed", zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					if agentID != "" && ev.AgentID != agentID {
						continue
					}
					ev.ID = msg.ID
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *EventBus) Close() error {
	return b.rdb.Close()
}
