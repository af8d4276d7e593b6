package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// newTestBreaker returns a breaker on a manual clock.
func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg)
	now := time.Unix(1_700_000_000, 0)
	b.nowFn = func() time.Time { return now }
	return b, &now
}

func fail(b *Breaker) error { return b.Do(func() error { return errBoom }) }
func ok(b *Breaker) error   { return b.Do(func() error { return nil }) }

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 5, b.failures)
	assert.Equal(t, 2, b.probes)
	assert.Equal(t, 30*time.Second, b.cooldown)
}

func TestBreaker_OpensAfterFailureRun(t *testing.T) {
	b, _ := newTestBreaker(Config{Failures: 3})

	require.ErrorIs(t, fail(b), errBoom)
	require.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, Closed, b.State())

	require.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker(Config{Failures: 3})

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.NoError(t, ok(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CooldownThenProbesClose(t *testing.T) {
	b, now := newTestBreaker(Config{Failures: 1, Probes: 2, Cooldown: 30 * time.Second})

	require.Error(t, fail(b))
	assert.Equal(t, Open, b.State())

	*now = now.Add(29 * time.Second)
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)

	*now = now.Add(2 * time.Second)
	require.NoError(t, ok(b))
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, ok(b))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{Failures: 1, Probes: 2, Cooldown: 30 * time.Second})

	require.Error(t, fail(b))
	*now = now.Add(31 * time.Second)

	require.Error(t, fail(b))
	assert.Equal(t, Open, b.State())

	// The reopened cooldown starts from the half-open failure.
	*now = now.Add(29 * time.Second)
	assert.Equal(t, Open, b.State())
	*now = now.Add(2 * time.Second)
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreaker_CancellationDoesNotCount(t *testing.T) {
	b, _ := newTestBreaker(Config{Failures: 1})

	err := b.Do(func() error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_CustomFailureClassifier(t *testing.T) {
	b, _ := newTestBreaker(Config{
		Failures:  1,
		IsFailure: func(err error) bool { return errors.Is(err, errBoom) },
	})

	require.Error(t, b.Do(func() error { return errors.New("client side") }))
	assert.Equal(t, Closed, b.State())

	require.Error(t, fail(b))
	assert.Equal(t, Open, b.State())
}

func TestBreaker_OnChangeNotifications(t *testing.T) {
	var got []string
	b, now := newTestBreaker(Config{
		Failures: 1,
		Probes:   1,
		Cooldown: time.Second,
		Name:     "indexer",
		OnChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+">"+to.String())
		},
	})

	require.Error(t, fail(b))
	*now = now.Add(2 * time.Second)
	require.NoError(t, ok(b))

	assert.Equal(t, []string{
		"indexer:closed>open",
		"indexer:open>half_open",
		"indexer:half_open>closed",
	}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half_open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
