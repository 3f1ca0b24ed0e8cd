package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/pdfscribe/internal/admission"
	"github.com/jackzampolin/pdfscribe/internal/gate"
)

func TestProcessPolicy(t *testing.T) {
	tests := []struct {
		name     string
		failFast bool
		wait     time.Duration
		waitSet  bool
		want     admission.Policy
		wantErr  bool
	}{
		{"default blocks", false, 0, false, admission.Blocking(), false},
		{"fail fast", true, 0, false, admission.FailFast(), false},
		{"explicit zero wait", false, 0, true, admission.WaitBounded(0), false},
		{"bounded wait", false, 5 * time.Second, true, admission.WaitBounded(5 * time.Second), false},
		{"wait too long", false, admission.MaxWait + time.Second, true, admission.Policy{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := processPolicy(tt.failFast, tt.wait, tt.waitSet)
			if tt.wantErr {
				assert.ErrorIs(t, err, admission.ErrTimeoutOutOfRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessPolicy_ZeroWaitAgainstHeldGate(t *testing.T) {
	g, err := gate.New(1)
	require.NoError(t, err)
	held, ok := g.TryAcquireImmediate()
	require.True(t, ok)
	defer held.Release()

	controller, err := admission.NewController(admission.Config{Gate: g})
	require.NoError(t, err)

	policy, err := processPolicy(false, 0, true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	_, err = controller.Admit(ctx, policy)
	rej, ok := admission.IsRejected(err)
	require.True(t, ok, "expected rejection, got %v", err)
	assert.Equal(t, admission.ReasonTimeout, rej.Reason)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, g.Held())
}
