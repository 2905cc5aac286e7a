package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendInt(n int) func([]int) ([]int, error) {
	return func(current []int) ([]int, error) {
		return append(append([]int(nil), current...), n), nil
	}
}

// gated 提交在 release 关闭前阻塞
func gated(release <-chan struct{}, err error) func(context.Context) (func([]int) []int, error) {
	return func(ctx context.Context) (func([]int) []int, error) {
		<-release
		return nil, err
	}
}

func instant(context.Context) (func([]int) []int, error) { return nil, nil }

func TestCoordinator_Confirm(t *testing.T) {
	c := NewCoordinator([]int{1}, PolicyQueue)
	assert.Equal(t, StateIdle, c.State())

	got, err := c.Mutate(context.Background(), Mutation[[]int]{
		Apply: appendInt(2),
		Commit: func(ctx context.Context) (func([]int) []int, error) {
			return func(current []int) []int {
				// 服务端把 2 确认为 20
				return append(current[:len(current)-1:len(current)-1], 20)
			}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 20}, got)
	assert.Equal(t, StateConfirmed, c.State())
}

func TestCoordinator_RollbackRestoresSnapshot(t *testing.T) {
	c := NewCoordinator([]int{1, 2}, PolicyQueue)
	release := make(chan struct{})
	failure := errors.New("server said no")

	var states []State
	var mu sync.Mutex
	c.OnChange(func(s State, _ []int) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Mutate(context.Background(), Mutation[[]int]{Apply: appendInt(3), Commit: gated(release, failure)})
		done <- err
	}()

	require.Eventually(t, func() bool { return c.State() == StatePending }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, c.Value(), "speculative state is visible while pending")

	close(release)
	assert.ErrorIs(t, <-done, failure)
	assert.Equal(t, StateRolledBack, c.State())
	assert.Equal(t, []int{1, 2}, c.Value())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StatePending, StateRolledBack}, states)
}

func TestCoordinator_ApplyErrorLeavesStateUntouched(t *testing.T) {
	c := NewCoordinator([]int{1}, PolicyReject)
	bad := errors.New("bad")
	_, err := c.Mutate(context.Background(), Mutation[[]int]{
		Apply:  func([]int) ([]int, error) { return nil, bad },
		Commit: instant,
	})
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []int{1}, c.Value())

	// 失败的 Apply 不占用在途名额
	_, err = c.Mutate(context.Background(), Mutation[[]int]{Apply: appendInt(2), Commit: instant})
	assert.NoError(t, err)
}

func TestCoordinator_RejectPolicy(t *testing.T) {
	c := NewCoordinator([]int{}, PolicyReject)
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Mutate(context.Background(), Mutation[[]int]{Apply: appendInt(1), Commit: gated(release, nil)})
		done <- err
	}()
	require.Eventually(t, func() bool { return c.State() == StatePending }, time.Second, time.Millisecond)

	_, err := c.Mutate(context.Background(), Mutation[[]int]{Apply: appendInt(2), Commit: gated(release, nil)})
	assert.ErrorIs(t, err, ErrMutationInFlight)
	assert.Equal(t, []int{1}, c.Value(), "rejected mutation is never applied")

	close(release)
	require.NoError(t, <-done)
}

func TestCoordinator_QueuePolicySerializes(t *testing.T) {
	c := NewCoordinator([]int{}, PolicyQueue)
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		_, err := c.Mutate(context.Background(), Mutation[[]int]{Apply: appendInt(1), Commit: gated(release, errors.New("fail"))})
		first <- err
	}()
	require.Eventually(t, func() bool { return c.State() == StatePending }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := c.Mutate(context.Background(), Mutation[[]int]{Apply: appendInt(2), Commit: instant})
		second <- err
	}()

	// 第二个修改在第一个结束前不会生效
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []int{1}, c.Value())

	close(release)
	assert.Error(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, []int{2}, c.Value(), "queued mutation applies on top of the rolled back state")
}

func TestCoordinator_AbandonDoesNotCancelCommit(t *testing.T) {
	c := NewCoordinator([]int{}, PolicyQueue)
	release := make(chan struct{})
	committed := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Mutate(ctx, Mutation[[]int]{
			Apply: appendInt(7),
			Commit: func(ctx context.Context) (func([]int) []int, error) {
				<-release
				committed <- ctx.Err()
				return nil, nil
			},
		})
		done <- err
	}()
	require.Eventually(t, func() bool { return c.State() == StatePending }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StatePending, c.State())

	close(release)
	assert.NoError(t, <-committed, "the server call keeps a live context")
	assert.Eventually(t, func() bool { return c.State() == StateConfirmed }, time.Second, time.Millisecond)
	assert.Equal(t, []int{7}, c.Value())
}

func TestCoordinator_UpdateWhilePendingSurvivesRollback(t *testing.T) {
	c := NewCoordinator([]int{1}, PolicyQueue)
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Mutate(context.Background(), Mutation[[]int]{Apply: appendInt(2), Commit: gated(release, errors.New("fail"))})
		done <- err
	}()
	require.Eventually(t, func() bool { return c.State() == StatePending }, time.Second, time.Millisecond)

	c.Update(func(current []int) []int { return append(append([]int(nil), current...), 99) })
	assert.Equal(t, []int{1, 2, 99}, c.Value())

	close(release)
	assert.Error(t, <-done)
	assert.Equal(t, []int{1, 99}, c.Value())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "confirmed", StateConfirmed.String())
	assert.Equal(t, "rolled_back", StateRolledBack.String())
	assert.Equal(t, "unknown", State(42).String())
}
