package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	mu       sync.Mutex
	online   []int64
	offline  []int64
	failWith error
}

func (m *recordingMirror) Online(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.online = append(m.online, userID)
	return nil
}

func (m *recordingMirror) Offline(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.offline = append(m.offline, userID)
	return nil
}

func TestConnectReportsFirstSessionOnly(t *testing.T) {
	r := NewRegistry(nil)

	assert.True(t, r.Connect(7))
	assert.False(t, r.Connect(7))
	assert.False(t, r.Connect(7))
	assert.Equal(t, 3, r.SessionCount(7))
}

func TestDisconnectReportsLastSessionOnly(t *testing.T) {
	r := NewRegistry(nil)
	r.Connect(7)
	r.Connect(7)

	assert.False(t, r.Disconnect(7))
	assert.True(t, r.Disconnect(7))
	assert.Equal(t, 0, r.SessionCount(7))
}

func TestDisconnectUnknownUserIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	assert.False(t, r.Disconnect(42))
	r.Connect(42)
	require.True(t, r.Disconnect(42))
	assert.False(t, r.Disconnect(42))
}

func TestConcurrentTransitionsFireExactlyOnce(t *testing.T) {
	r := NewRegistry(nil)
	const sessions = 64

	var became atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Connect(1) {
				became.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, became.Load())
	require.Equal(t, sessions, r.SessionCount(1))

	var went atomic.Int64
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Disconnect(1) {
				went.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, went.Load())
	assert.Equal(t, 0, r.SessionCount(1))
}

func TestOnlineUserIDsSortedSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	r.Connect(30)
	r.Connect(10)
	r.Connect(20)
	r.Connect(10)

	assert.Equal(t, []int64{10, 20, 30}, r.OnlineUserIDs())
}

func TestMirrorSeesTransitionsOnly(t *testing.T) {
	mirror := &recordingMirror{}
	r := NewRegistry(nil, WithMirror(mirror))

	r.Connect(5)
	r.Connect(5)
	r.Disconnect(5)
	r.Disconnect(5)

	assert.Equal(t, []int64{5}, mirror.online)
	assert.Equal(t, []int64{5}, mirror.offline)
}

func TestMirrorFailureDoesNotAffectRegistry(t *testing.T) {
	mirror := &recordingMirror{failWith: errors.New("redis down")}
	r := NewRegistry(nil, WithMirror(mirror))

	assert.True(t, r.Connect(9))
	assert.Equal(t, 1, r.SessionCount(9))
	assert.True(t, r.Disconnect(9))
}
