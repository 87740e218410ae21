package live

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/turbulence/internal/logging"
)

// RedisFanout publishes Bus events to a Redis channel so a second process
// on the same host watching the same run_id observes the identical
// sequence of events. This is the one concession to multi-process sharing
// the live channel makes; it does not implement distributed scheduling —
// only one process ever owns a run's scheduler and store writes.
type RedisFanout struct {
	client  *redis.Client
	channel string
	log     *logging.Logger
}

// NewRedisFanout connects to addr and scopes its channel to runID.
func NewRedisFanout(addr, runID string, log *logging.Logger) *RedisFanout {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisFanout{client: client, channel: "turbulence:live:" + runID, log: log}
}

// Publish implements the Bus.SetPublisher hook signature.
func (f *RedisFanout) Publish(ev Event) {
	buf, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := f.client.Publish(context.Background(), f.channel, buf).Err(); err != nil {
		f.log.WithError(err).Warn("redis live fanout publish failed")
	}
}

// Subscribe relays events from Redis into a local Bus on this process,
// letting a reader process attach to a run driven by a scheduler running
// elsewhere on the same host.
func (f *RedisFanout) Subscribe(ctx context.Context, bus *Bus) {
	sub := f.client.Subscribe(ctx, f.channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				bus.deliverOnly(ev)
			}
		}
	}()
}

// Close releases the underlying Redis client.
func (f *RedisFanout) Close() error {
	return f.client.Close()
}
