package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nowplaying/internal/app/playback"
	"github.com/osa030/nowplaying/internal/domain/track"
)

type recorder struct {
	mu  sync.Mutex
	got []*Notification
}

func (r *recorder) Send(n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestManager_Broadcast(t *testing.T) {
	m := NewManager()
	a, b := &recorder{}, &recorder{}
	m.Subscribe(a)
	idB := m.Subscribe(b)
	require.Equal(t, 2, m.SubscriberCount())

	m.Broadcast(&Notification{Type: "state_changed"})
	assert.Equal(t, 1, a.len())
	assert.Equal(t, 1, b.len())

	m.Unsubscribe(idB)
	m.Broadcast(&Notification{Type: "progress"})
	assert.Equal(t, 2, a.len())
	assert.Equal(t, 1, b.len())

	assert.Equal(t, uint64(1), a.got[0].SequenceNo)
	assert.Equal(t, uint64(2), a.got[1].SequenceNo)
}

func TestManager_BroadcastSlowSubscriber(t *testing.T) {
	m := NewManager()
	block := make(chan struct{})
	defer close(block)

	m.Subscribe(StreamFunc(func(*Notification) error {
		<-block
		return nil
	}))
	fast := &recorder{}
	m.Subscribe(fast)

	start := time.Now()
	m.Broadcast(&Notification{Type: "progress"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, fast.len())
}

func TestManager_BroadcastIgnoresSendErrors(t *testing.T) {
	m := NewManager()
	m.Subscribe(StreamFunc(func(*Notification) error {
		return errors.New("broken pipe")
	}))
	ok := &recorder{}
	m.Subscribe(ok)

	m.Broadcast(&Notification{Type: "cleared"})
	assert.Equal(t, 1, ok.len())
}

func TestManager_Send(t *testing.T) {
	m := NewManager()
	r := &recorder{}
	id := m.Subscribe(r)

	require.NoError(t, m.Send(id, &Notification{Type: "snapshot"}))
	require.NoError(t, m.Send("missing", &Notification{Type: "snapshot"}))
	assert.Equal(t, 1, r.len())

	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestFromEvent(t *testing.T) {
	cur := track.Track{ID: "A"}
	n := FromEvent(playback.Event{
		Type:    playback.EventPlaybackFailed,
		Session: playback.Session{CurrentTrack: &cur, State: playback.StateIdle},
		Err:     errors.New("boom"),
	})

	assert.Equal(t, "playback_failed", n.Type)
	assert.Equal(t, "boom", n.Error)
	assert.Equal(t, "A", n.Session.CurrentTrack.ID)

	n = FromEvent(playback.Event{Type: playback.EventProgress})
	assert.Empty(t, n.Error)
}
