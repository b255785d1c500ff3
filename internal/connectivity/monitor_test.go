package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenersFireOnlyOnChange(t *testing.T) {
	m := NewMonitor(false, nil)
	var events []bool
	m.Subscribe(func(_ context.Context, online bool) {
		events = append(events, online)
	})

	ctx := context.Background()
	m.Set(ctx, false)
	m.Set(ctx, true)
	m.Set(ctx, true)
	m.Set(ctx, false)

	assert.Equal(t, []bool{true, false}, events)
	assert.False(t, m.Online())
}

type flakyProber struct {
	fail atomic.Bool
}

func (p *flakyProber) Ping(context.Context) error {
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestRunFollowsProber(t *testing.T) {
	m := NewMonitor(false, nil)
	prober := &flakyProber{}
	transitions := make(chan bool, 4)
	m.Subscribe(func(_ context.Context, online bool) {
		transitions <- online
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, prober, 10*time.Millisecond, 10*time.Millisecond)

	select {
	case online := <-transitions:
		require.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("expected online transition")
	}

	prober.fail.Store(true)
	select {
	case online := <-transitions:
		require.False(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("expected offline transition")
	}
}
