package rooms

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCreatesRoomAndTracksBothDirections(t *testing.T) {
	d := NewDirectory()

	d.Join("s1", "users1")
	d.Join("s2", "users1")
	d.Join("s1", "games42")

	assert.ElementsMatch(t, []string{"s1", "s2"}, d.Members("users1"))
	assert.ElementsMatch(t, []string{"users1", "games42"}, d.RoomsOf("s1"))
	assert.ElementsMatch(t, []string{"users1"}, d.RoomsOf("s2"))
}

func TestJoinIsIdempotent(t *testing.T) {
	d := NewDirectory()

	d.Join("s1", "users1")
	d.Join("s1", "users1")

	assert.Equal(t, []string{"s1"}, d.Members("users1"))
	assert.Equal(t, []string{"users1"}, d.RoomsOf("s1"))
}

func TestLeaveUnknownRoomIsNoOp(t *testing.T) {
	d := NewDirectory()
	d.Join("s1", "users1")

	d.Leave("s1", "channels9")
	d.Leave("ghost", "users1")

	assert.Equal(t, []string{"s1"}, d.Members("users1"))
}

func TestEmptyRoomIsCollected(t *testing.T) {
	d := NewDirectory()
	d.Join("s1", "channels5")
	d.Join("s2", "channels5")

	d.Leave("s1", "channels5")
	require.Equal(t, []string{"s2"}, d.Members("channels5"))

	d.Leave("s2", "channels5")
	assert.Empty(t, d.Members("channels5"))

	// A fresh join after collection works against a new entry.
	d.Join("s3", "channels5")
	assert.Equal(t, []string{"s3"}, d.Members("channels5"))
}

func TestSwitchChannelRoomReplacesPrevious(t *testing.T) {
	d := NewDirectory()

	previous := d.SwitchChannelRoom("s1", "channels1")
	assert.Empty(t, previous)

	previous = d.SwitchChannelRoom("s1", "channels2")
	assert.Equal(t, "channels1", previous)

	assert.Empty(t, d.Members("channels1"))
	assert.Equal(t, []string{"s1"}, d.Members("channels2"))

	current, ok := d.CurrentChannelRoom("s1")
	require.True(t, ok)
	assert.Equal(t, "channels2", current)
}

func TestSwitchToSameChannelRoomKeepsMembership(t *testing.T) {
	d := NewDirectory()
	d.SwitchChannelRoom("s1", "channels1")

	previous := d.SwitchChannelRoom("s1", "channels1")
	assert.Equal(t, "channels1", previous)
	assert.Equal(t, []string{"s1"}, d.Members("channels1"))
}

func TestLeaveChannelRoomClearsPointer(t *testing.T) {
	d := NewDirectory()
	d.SwitchChannelRoom("s1", "channels3")

	left := d.LeaveChannelRoom("s1")
	assert.Equal(t, "channels3", left)
	assert.Empty(t, d.Members("channels3"))

	_, ok := d.CurrentChannelRoom("s1")
	assert.False(t, ok)

	assert.Empty(t, d.LeaveChannelRoom("s1"))
}

func TestLeaveClearsChannelPointerWhenMatching(t *testing.T) {
	d := NewDirectory()
	d.SwitchChannelRoom("s1", "channels3")

	d.Leave("s1", "channels3")
	_, ok := d.CurrentChannelRoom("s1")
	assert.False(t, ok)
}

func TestForgetRemovesSessionEverywhere(t *testing.T) {
	d := NewDirectory()
	d.Join("s1", "users1")
	d.Join("s2", "users1")
	d.SwitchChannelRoom("s1", "channels1")
	d.Join("s1", "games9")

	left := d.Forget("s1")
	assert.ElementsMatch(t, []string{"users1", "channels1", "games9"}, left)
	assert.Equal(t, []string{"s2"}, d.Members("users1"))
	assert.Empty(t, d.RoomsOf("s1"))
	assert.NotContains(t, d.Sessions(), "s1")

	assert.Nil(t, d.Forget("s1"))
}

func TestRegisterMakesSessionKnown(t *testing.T) {
	d := NewDirectory()
	d.Register("s1")

	assert.Contains(t, d.Sessions(), "s1")
	assert.Empty(t, d.RoomsOf("s1"))
}

func TestConcurrentJoinLeaveStaysConsistent(t *testing.T) {
	d := NewDirectory()
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n)
			for j := 0; j < 50; j++ {
				d.Join(id, "channels1")
				d.Leave(id, "channels1")
			}
			d.Join(id, "channels1")
		}(i)
	}
	wg.Wait()

	assert.Len(t, d.Members("channels1"), workers)
}
