// Package redispub publishes playback notifications to Redis pub/sub.
package redispub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nowplaying/internal/app/notification"
)

// publishTimeout stays under the notification manager's send timeout.
const publishTimeout = 400 * time.Millisecond

// publishScript publishes ARGV[1] and stores it as the latest notification
// unless a newer sequence number is already stored. Sequence 0 is unstamped
// and always stored.
var publishScript = redis.NewScript(`
redis.call("PUBLISH", KEYS[1], ARGV[1])
local seq = tonumber(ARGV[2])
local cur = tonumber(redis.call("GET", KEYS[3]) or "0")
if seq == 0 or seq > cur then
  redis.call("SET", KEYS[2], ARGV[1])
  if seq > 0 then
    redis.call("SET", KEYS[3], ARGV[2])
  end
  return 1
end
return 0
`)

// Options configures the publisher.
type Options struct {
	Addr     string
	Password string
	Channel  string
}

// Publisher sends every notification to a Redis channel and keeps the
// latest one under "<channel>:latest" for late readers.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", opts.Addr)
	}
	zlog.Info().Msgf("redispub: connected: addr=%s channel=%s", opts.Addr, opts.Channel)
	return NewWithClient(rdb, opts.Channel), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

// LatestKey returns the key holding the most recent notification.
func (p *Publisher) LatestKey() string {
	return p.channel + ":latest"
}

// SequenceKey returns the key holding the sequence number of LatestKey.
func (p *Publisher) SequenceKey() string {
	return p.channel + ":latest_seq"
}

// Send implements notification.Stream.
func (p *Publisher) Send(n *notification.Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.Publish(ctx, n)
}

// Publish marshals n and publishes it. The latest key only moves forward
// in sequence order, so a delayed publish cannot overwrite a newer one.
func (p *Publisher) Publish(ctx context.Context, n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}

	keys := []string{p.channel, p.LatestKey(), p.SequenceKey()}
	stored, err := publishScript.Run(ctx, p.rdb, keys, string(data), n.SequenceNo).Int()
	if err != nil {
		return errors.Wrapf(err, "failed to publish to %s", p.channel)
	}
	if stored == 0 {
		zlog.Debug().Msgf("redispub: stale notification not stored: seq=%d", n.SequenceNo)
	}
	return nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
