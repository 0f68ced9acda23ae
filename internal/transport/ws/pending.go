package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/domain/wire"
	"github.com/charging-platform/central-system/internal/logger"
	"github.com/charging-platform/central-system/internal/metrics"
)

// ErrCallTimeout 指令等待响应超时
var ErrCallTimeout = errors.New("call timed out waiting for station response")

// ErrCallCancelled 指令在响应到达前被取消
var ErrCallCancelled = errors.New("call cancelled")

// CallOutcome 服务端发起指令的最终结果
type CallOutcome struct {
	// Payload CallResult载荷，错误时为nil
	Payload json.RawMessage
	// ErrorCode 站点返回CallError时的错误代码
	ErrorCode wire.ErrorCode
	// ErrorDescription 站点返回CallError时的错误描述
	ErrorDescription string
	// Err 本地失败：超时或取消
	Err error
}

// IsError 是否为CallError响应
func (o *CallOutcome) IsError() bool {
	return o.ErrorCode != ""
}

// pendingCall 单个在途指令
type pendingCall struct {
	messageID string
	stationID string
	action    string
	createdAt time.Time
	outcome   chan *CallOutcome
	timer     *time.Timer
}

// PendingCalls 在途指令表，按消息ID关联请求与响应
// 每个在途指令有独立的超时定时器，超时后以ErrCallTimeout结束。
type PendingCalls struct {
	mu      sync.Mutex
	calls   map[string]*pendingCall
	timeout time.Duration
	logger  *logger.Logger
}

// NewPendingCalls 创建在途指令表
func NewPendingCalls(timeout time.Duration, log *logger.Logger) *PendingCalls {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PendingCalls{
		calls:   make(map[string]*pendingCall),
		timeout: timeout,
		logger:  log,
	}
}

// Register 登记一个在途指令，返回接收结果的通道
func (p *PendingCalls) Register(messageID, stationID, action string) <-chan *CallOutcome {
	call := &pendingCall{
		messageID: messageID,
		stationID: stationID,
		action:    action,
		createdAt: time.Now(),
		outcome:   make(chan *CallOutcome, 1),
	}

	// timer在持锁发布前完成赋值，finish读取时不会与之竞争
	p.mu.Lock()
	call.timer = time.AfterFunc(p.timeout, func() {
		if p.finish(messageID, &CallOutcome{Err: ErrCallTimeout}) {
			metrics.CallTimeouts.Inc()
			p.logger.Warnf("Call %s (%s) to %s timed out after %v", messageID, action, stationID, p.timeout)
		}
	})
	p.calls[messageID] = call
	p.mu.Unlock()

	metrics.PendingCalls.Inc()

	return call.outcome
}

// Resolve 以CallResult结束在途指令
func (p *PendingCalls) Resolve(messageID string, payload json.RawMessage) bool {
	return p.finish(messageID, &CallOutcome{Payload: payload})
}

// ResolveError 以CallError结束在途指令
func (p *PendingCalls) ResolveError(messageID string, code wire.ErrorCode, description string) bool {
	return p.finish(messageID, &CallOutcome{ErrorCode: code, ErrorDescription: description})
}

// Cancel 取消在途指令
func (p *PendingCalls) Cancel(messageID string) bool {
	return p.finish(messageID, &CallOutcome{Err: ErrCallCancelled})
}

// CancelForStation 取消某站点的全部在途指令，连接断开时调用
func (p *PendingCalls) CancelForStation(stationID string) int {
	p.mu.Lock()
	var ids []string
	for id, call := range p.calls {
		if call.stationID == stationID {
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Cancel(id)
	}
	return len(ids)
}

// Count 在途指令数量
func (p *PendingCalls) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// finish 结束指令并投递结果，指令不存在时返回false
func (p *PendingCalls) finish(messageID string, outcome *CallOutcome) bool {
	p.mu.Lock()
	call, exists := p.calls[messageID]
	if exists {
		delete(p.calls, messageID)
	}
	p.mu.Unlock()

	if !exists {
		return false
	}

	if call.timer != nil {
		call.timer.Stop()
	}
	metrics.PendingCalls.Dec()
	call.outcome <- outcome
	return true
}
