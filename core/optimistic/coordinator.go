package optimistic

import (
	"context"
	"errors"
	"sync"
)

// State 推测性修改的状态
type State int

const (
	StateIdle State = iota
	StatePending
	StateConfirmed
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Policy 已有修改在途时，新修改的处理方式
type Policy int

const (
	// PolicyQueue 排队等待前一个修改结束
	PolicyQueue Policy = iota
	// PolicyReject 直接返回 ErrMutationInFlight
	PolicyReject
)

// ErrMutationInFlight 已有未确认的修改
var ErrMutationInFlight = errors.New("another edit is still pending")

// Mutation 一次推测性修改
// Apply 不得修改入参，必须返回新值
type Mutation[T any] struct {
	// Apply 立即作用于本地视图的正向变换
	Apply func(current T) (T, error)
	// Commit 真正的服务端请求，成功时返回把确认结果合并进最新视图的变换
	Commit func(ctx context.Context) (func(current T) T, error)
}

type outcome[T any] struct {
	value T
	err   error
}

// Coordinator 本地视图的推测性修改状态机
// Idle -> Pending(snapshot) -> Confirmed | RolledBack(snapshot)
type Coordinator[T any] struct {
	mu       sync.Mutex
	state    State
	current  T
	snapshot T
	policy   Policy
	onChange func(State, T)

	// 容量为 1，同一时刻只有一个修改在途
	slot chan struct{}
}

// NewCoordinator 创建协调器
func NewCoordinator[T any](initial T, policy Policy) *Coordinator[T] {
	return &Coordinator[T]{
		current: initial,
		policy:  policy,
		slot:    make(chan struct{}, 1),
	}
}

// OnChange 每次本地视图变化后回调（持锁外调用）
func (c *Coordinator[T]) OnChange(fn func(State, T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// State 当前状态
func (c *Coordinator[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Value 当前本地视图（可能包含未确认的修改）
func (c *Coordinator[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Update 合并外部变化，修改在途时同时作用于快照，回滚后不会丢失
func (c *Coordinator[T]) Update(fn func(T) T) {
	c.mu.Lock()
	c.current = fn(c.current)
	if c.state == StatePending {
		c.snapshot = fn(c.snapshot)
	}
	state, value, notify := c.state, c.current, c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(state, value)
	}
}

// Mutate 推测性地应用修改并发送请求
// ctx 取消只放弃等待，不取消服务端请求，结果仍会确认或回滚本地视图
func (c *Coordinator[T]) Mutate(ctx context.Context, m Mutation[T]) (T, error) {
	var zero T
	if err := c.acquire(ctx); err != nil {
		return zero, err
	}

	c.mu.Lock()
	next, err := m.Apply(c.current)
	if err != nil {
		c.mu.Unlock()
		c.release()
		return zero, err
	}
	c.snapshot = c.current
	c.current = next
	c.state = StatePending
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(StatePending, next)
	}

	done := make(chan outcome[T], 1)
	go func() {
		confirm, err := m.Commit(context.WithoutCancel(ctx))
		done <- c.resolve(confirm, err)
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Coordinator[T]) resolve(confirm func(T) T, err error) outcome[T] {
	defer c.release()

	c.mu.Lock()
	if err != nil {
		c.current = c.snapshot
		c.state = StateRolledBack
	} else {
		if confirm != nil {
			c.current = confirm(c.current)
		}
		c.state = StateConfirmed
	}
	var zero T
	c.snapshot = zero
	state, value, notify := c.state, c.current, c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(state, value)
	}
	return outcome[T]{value: value, err: err}
}

func (c *Coordinator[T]) acquire(ctx context.Context) error {
	if c.policy == PolicyReject {
		select {
		case c.slot <- struct{}{}:
			return nil
		default:
			return ErrMutationInFlight
		}
	}
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator[T]) release() {
	<-c.slot
}
