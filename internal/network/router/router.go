package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/internal/network"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/codec"
	"github.com/lk2023060901/danmu-garden-serde/internal/network/message"
	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/conc"
)

// Handler 是框架暴露给业务层的通用处理函数签名。
//
// 说明：
//   - peer：请求来源，用于发送响应；
//   - req ：已经反序列化的请求对象，具体类型由 Route.NewRequest 决定；
//   - 返回 resp 为 nil 时不自动发送响应。
type Handler func(peer network.Peer, req any) (resp any, err error)

// Route 描述一条路由规则：请求协议号 -> 请求类型 + 业务 Handler + 响应协议号。
type Route struct {
	// NewRequest 创建一个空的请求对象，必须返回指针。
	NewRequest func() any

	// Handler 为业务层实现的处理函数。
	Handler Handler

	// RespOp 为响应消息使用的协议号，为 0 时不自动发送响应。
	RespOp uint32
}

// Router 维护协议号到路由规则的映射，并负责从“已解帧的载荷”到业务 Handler 的调度。
//
// 典型调用链：
//  1. Codec.DecodeRaw 读出 header + payload；
//  2. 上层调用 Router.Handle(peer, header, payload)；
//  3. Router 按 header.Op 找到 Route，反序列化请求并调用 Handler；
//  4. 如有需要，构造响应头（沿用请求的 Seq）并经 Codec 编码后通过 peer.Send 发送。
type Router interface {
	// Register 为协议号 op 注册一条路由规则，同一协议号不允许重复注册。
	Register(op uint32, route Route) error

	// Handle 在当前协程内处理一条消息。
	Handle(peer network.Peer, header *message.MessageHeader, payload []byte) error

	// HandleAsync 将消息投递到协程池处理。payload 在返回的 Future 完成前不得修改。
	HandleAsync(peer network.Peer, header *message.MessageHeader, payload []byte) *conc.Future[struct{}]

	// Close 释放协程池。
	Close()
}

// Option 配置 Router。
type Option func(*defaultRouter)

// WithPool 使用给定的协程池执行 HandleAsync。
func WithPool(pool *conc.Pool[struct{}]) Option {
	return func(r *defaultRouter) {
		r.pool = pool
	}
}

// WithLogger 设置 Router 使用的日志。
func WithLogger(logger *log.MLogger) Option {
	return func(r *defaultRouter) {
		r.logger = logger
	}
}

// defaultRouter 是 Router 接口的基础实现。
type defaultRouter struct {
	codec  codec.Codec
	logger *log.MLogger

	mu     sync.RWMutex
	routes map[uint32]Route

	poolOnce sync.Once
	pool     *conc.Pool[struct{}]
}

// 编译期断言：确保 defaultRouter 实现了 Router 接口。
var _ Router = (*defaultRouter)(nil)

// New 创建一个基于给定 Codec 的 Router 实例。
func New(c codec.Codec, opts ...Option) Router {
	r := &defaultRouter{
		codec:  c,
		logger: log.With(log.FieldModule("router")).WithRateGroup("router", 1, 60),
		routes: make(map[uint32]Route),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 实现 Router.Register。
func (r *defaultRouter) Register(op uint32, route Route) error {
	if op == 0 {
		return fmt.Errorf("router: op must not be 0")
	}
	if route.NewRequest == nil {
		return fmt.Errorf("router: NewRequest is nil for op=%d", op)
	}
	if route.Handler == nil {
		return fmt.Errorf("router: Handler is nil for op=%d", op)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[op]; exists {
		return fmt.Errorf("router: op=%d already registered", op)
	}
	r.routes[op] = route
	return nil
}

func (r *defaultRouter) route(op uint32) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[op]
	return route, ok
}

// Handle 实现 Router.Handle。
func (r *defaultRouter) Handle(peer network.Peer, header *message.MessageHeader, payload []byte) (err error) {
	if peer == nil {
		return fmt.Errorf("%w: peer is nil", network.ErrDispatchFailed)
	}
	if header == nil {
		return fmt.Errorf("%w: header is nil", network.ErrDispatchFailed)
	}

	route, ok := r.route(header.Op)
	if !ok {
		return fmt.Errorf("%w: no handler for op=%d", network.ErrDispatchFailed, header.Op)
	}

	// 1. 构造请求对象并反序列化。
	req := route.NewRequest()
	if req == nil {
		return fmt.Errorf("%w: NewRequest returned nil for op=%d", network.ErrDispatchFailed, header.Op)
	}
	if len(payload) > 0 {
		if err := r.codec.Unmarshal(payload, req); err != nil {
			return fmt.Errorf("op=%d: %w", header.Op, err)
		}
	}

	// 2. 调用业务 Handler。
	resp, err := r.invoke(route.Handler, peer, req, header.Op)
	if err != nil {
		return err
	}

	// 3. 根据路由规则决定是否自动发送响应。
	if route.RespOp == 0 || resp == nil {
		return nil
	}
	respHeader := &message.MessageHeader{
		Op:        route.RespOp,
		Seq:       header.Seq,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := r.codec.Encode(network.PeerWriter{Peer: peer}, respHeader, resp); err != nil {
		return fmt.Errorf("op=%d: send response: %w", header.Op, err)
	}
	return nil
}

func (r *defaultRouter) invoke(h Handler, peer network.Peer, req any, op uint32) (resp any, err error) {
	defer func() {
		if x := recover(); x != nil {
			resp, err = nil, fmt.Errorf("%w: handler for op=%d panicked: %v", network.ErrDispatchFailed, op, x)
		}
	}()
	resp, err = h(peer, req)
	if err != nil {
		return nil, fmt.Errorf("%w: op=%d: %w", network.ErrDispatchFailed, op, err)
	}
	return resp, nil
}

// HandleAsync 实现 Router.HandleAsync。
func (r *defaultRouter) HandleAsync(peer network.Peer, header *message.MessageHeader, payload []byte) *conc.Future[struct{}] {
	r.poolOnce.Do(func() {
		if r.pool == nil {
			r.pool = conc.NewDefaultPool[struct{}]()
		}
	})
	ctx := log.WithLogger(context.Background(), r.logger)
	if header != nil {
		ctx = log.WithFields(ctx, log.FieldOp(header.Op), log.FieldSeq(header.Seq))
	}
	return r.pool.Submit(func() (struct{}, error) {
		ctx, span := log.NewIntentContext(ctx, "router", "HandleAsync")
		defer span.End()
		err := r.Handle(peer, header, payload)
		if err != nil {
			span.RecordError(err)
			log.Ctx(ctx).RatedWarn(1, "handle message failed",
				zap.String("stage", string(network.StageOf(err))),
				zap.Error(err))
		}
		return struct{}{}, err
	})
}

// Close 实现 Router.Close。
func (r *defaultRouter) Close() {
	r.poolOnce.Do(func() {})
	if r.pool != nil {
		r.pool.Release()
	}
}
