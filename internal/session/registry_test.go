package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRemoveAbsentIsNoop(t *testing.T) {
	registry := NewRegistry()
	s, _ := newTestSession(t, registry, "CP_1")

	registry.Remove(s)
	registry.Remove(s)
	assert.Equal(t, 0, registry.Len())

	_, ok := registry.Get("CP_1")
	assert.False(t, ok)
}

func TestRegistryReconnectKeepsNewSession(t *testing.T) {
	registry := NewRegistry()
	clk := testclock.NewClock(time.Now())
	logger, _ := logtest.NewNullLogger()

	newSession := func() *Session {
		s, err := New("CP_1", newPipe(), Config{Actions: testActions(), Registry: registry, Clock: clk, Logger: logger})
		require.NoError(t, err)
		return s
	}
	old := newSession()
	clk.Advance(time.Second)
	reconnected := newSession()
	defer reconnected.Close()
	require.Equal(t, 2, registry.Len())

	got, ok := registry.Get("CP_1")
	require.True(t, ok)
	assert.Same(t, reconnected, got)

	old.Close()
	assert.Equal(t, 1, registry.Len())
	got, ok = registry.Get("CP_1")
	require.True(t, ok)
	assert.Same(t, reconnected, got)
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	registry := NewRegistry()
	logger, _ := logtest.NewNullLogger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := New(fmt.Sprintf("CP_%02d", i), newPipe(), Config{Actions: testActions(), Registry: registry, Logger: logger})
			if err != nil {
				t.Error(err)
				return
			}
			_ = registry.Sessions()
			_ = registry.Len()
			if i%2 == 0 {
				s.Close()
				s.Close()
			}
		}(i)
	}
	wg.Wait()

	sessions := registry.Sessions()
	require.Len(t, sessions, 25)
	for i := 1; i < len(sessions); i++ {
		assert.Less(t, sessions[i-1].ID(), sessions[i].ID())
	}

	registry.CloseAll()
	assert.Equal(t, 0, registry.Len())
	for _, s := range sessions {
		assert.Equal(t, StateClosed, s.State())
	}
}
