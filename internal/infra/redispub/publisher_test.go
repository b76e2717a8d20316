package redispub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/notification"
	"github.com/osa030/nowplaying/internal/app/playback"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestPublisher_StoresLatest(t *testing.T) {
	mr, rdb := setup(t)
	p := NewWithClient(rdb, "nowplaying")

	require.NoError(t, p.Send(&notification.Notification{
		SequenceNo: 7,
		Type:       "state_changed",
		Session:    playback.Session{State: playback.StatePlaying, IsPlaying: true},
	}))

	raw, err := mr.Get("nowplaying:latest")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "state_changed", got["type"])
	assert.Equal(t, float64(7), got["sequence_no"])
	session := got["session"].(map[string]any)
	assert.Equal(t, "playing", session["state"])
	assert.Equal(t, true, session["is_playing"])
}

func TestPublisher_LatestOnlyMovesForward(t *testing.T) {
	mr, rdb := setup(t)
	p := NewWithClient(rdb, "nowplaying")
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, &notification.Notification{SequenceNo: 5, Type: "track_started"}))
	// A publish that was delayed past a newer one arrives late.
	require.NoError(t, p.Publish(ctx, &notification.Notification{SequenceNo: 4, Type: "progress"}))

	raw, err := mr.Get("nowplaying:latest")
	require.NoError(t, err)
	assert.Contains(t, raw, `"type":"track_started"`)
	seq, err := mr.Get("nowplaying:latest_seq")
	require.NoError(t, err)
	assert.Equal(t, "5", seq)

	require.NoError(t, p.Publish(ctx, &notification.Notification{SequenceNo: 6, Type: "cleared"}))
	raw, err = mr.Get("nowplaying:latest")
	require.NoError(t, err)
	assert.Contains(t, raw, `"type":"cleared"`)
}

func TestPublisher_TimeoutBelowSendTimeout(t *testing.T) {
	assert.Less(t, publishTimeout, 500*time.Millisecond)
}

func TestPublisher_PublishesToChannel(t *testing.T) {
	_, rdb := setup(t)
	p := NewWithClient(rdb, "nowplaying")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, "nowplaying")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, &notification.Notification{Type: "track_started"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"type":"track_started"`)
}

func TestPublisher_RedisError(t *testing.T) {
	mr, rdb := setup(t)
	p := NewWithClient(rdb, "nowplaying")

	mr.SetError("redis connection failed")
	err := p.Send(&notification.Notification{Type: "progress"})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)

	p, err := New(context.Background(), Options{Addr: mr.Addr(), Channel: "np"})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "np:latest", p.LatestKey())

	_, err = New(context.Background(), Options{Addr: "127.0.0.1:1", Channel: "np"})
	assert.Error(t, err)
}
