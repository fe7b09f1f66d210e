package client

import (
	"context"
	"sync"
	"time"

	"dinehub/internal/broker"
)

// State 会话连接状态
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Conn 一条已建立的事件流连接
type Conn interface {
	// ReadEvent 阻塞读取下一条事件，连接断开时返回错误
	ReadEvent() (*broker.Event, error)
	Close() error
}

// Dialer 建立事件流连接
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// SessionOptions 会话参数
type SessionOptions struct {
	// RetryInterval 重连固定间隔，默认3秒
	RetryInterval time.Duration
	// MaxAttempts 连续重连上限，超过后进入failed状态等待手动重试，默认5次
	MaxAttempts int
}

// Session 管理到服务端事件流的长连接
//
// 断线后按固定间隔自动重连；连续失败达到上限进入failed，
// 只有调用Retry()才会再次尝试。重连成功后回调OnConnect，
// 调用方在回调里完成离线队列重放和状态刷新。
type Session struct {
	dialer        Dialer
	retryInterval time.Duration
	maxAttempts   int

	// OnState 状态变更回调（可选），在会话goroutine中调用
	OnState func(State)
	// OnEvent 收到事件回调（可选）
	OnEvent func(broker.Event)
	// OnConnect 每次连接建立后的回调（可选），用于离线重放
	OnConnect func()

	mu       sync.Mutex
	state    State
	attempts int
	retryC   chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSession 创建会话
func NewSession(dialer Dialer, opts SessionOptions) *Session {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 3 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Session{
		dialer:        dialer,
		retryInterval: opts.RetryInterval,
		maxAttempts:   opts.MaxAttempts,
		state:         StateDisconnected,
		retryC:        make(chan struct{}, 1),
	}
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState 更新状态并触发回调
func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed && s.OnState != nil {
		s.OnState(state)
	}
}

// Start 启动会话循环，立即返回
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop 关闭会话并等待循环退出
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Retry 从failed状态手动发起重连，其他状态下无效
func (s *Session) Retry() {
	if s.State() != StateFailed {
		return
	}
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	select {
	case s.retryC <- struct{}{}:
	default:
	}
}

// run 会话主循环：连接、读事件、按策略重连
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			if !s.backoff(ctx) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
		s.setState(StateConnected)
		if s.OnConnect != nil {
			s.OnConnect()
		}

		s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.setState(StateDisconnected)
		if !s.backoff(ctx) {
			return
		}
	}
}

// readLoop 读取事件直到连接断开或会话取消
func (s *Session) readLoop(ctx context.Context, conn Conn) {
	events := make(chan *broker.Event)
	readErr := make(chan error, 1)

	go func() {
		for {
			evt, err := conn.ReadEvent()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readErr:
			return
		case evt := <-events:
			if s.OnEvent != nil && evt != nil {
				s.OnEvent(*evt)
			}
		}
	}
}

// backoff 等待重连窗口
//
// 返回false表示会话已取消。连续失败达到上限时进入failed，
// 阻塞等待Retry()或取消。
func (s *Session) backoff(ctx context.Context) bool {
	s.mu.Lock()
	s.attempts++
	exhausted := s.attempts >= s.maxAttempts
	s.mu.Unlock()

	if exhausted {
		s.setState(StateFailed)
		select {
		case <-ctx.Done():
			return false
		case <-s.retryC:
			return true
		}
	}

	s.setState(StateReconnecting)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.retryInterval):
		return true
	}
}
