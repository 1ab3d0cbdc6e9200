package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := New(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("key-a"))
	assert.True(t, l.Allow("key-a"))
	assert.False(t, l.Allow("key-a"), "burst exhausted")

	assert.True(t, l.Allow("key-b"), "identities have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("key-a"), "refilled after one second")
	assert.False(t, l.Allow("key-a"))
}

func TestLimiter_Disabled(t *testing.T) {
	tests := []struct {
		name string
		l    *Limiter
	}{
		{"zero rate", New(0, 5)},
		{"negative rate", New(-1, 5)},
		{"nil limiter", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.l.Enabled())
			for i := 0; i < 100; i++ {
				assert.True(t, tt.l.Allow("key"))
			}
		})
	}
}

func TestLimiter_Prune(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := New(5, 5)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(2 * time.Hour)
	l.Allow("fresh")

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 1, l.Prune(time.Hour))
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_RunStopsWithContext(t *testing.T) {
	l := New(5, 5)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
