package payment

import (
	"context"
	"fmt"
	"sync"
)

// Call 记录一次对 Stub 的调用
type Call struct {
	Method string
	Ref    SubscriptionRef
	Params RefundParams
}

// Stub 内存实现，用于本地开发与测试，不产生真实资金操作
type Stub struct {
	mu      sync.Mutex
	calls   []Call
	failErr error
	seq     int
}

func NewStub() *Stub {
	return &Stub{}
}

// FailWith 之后的调用都返回 err，传 nil 恢复
func (s *Stub) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Calls 返回调用记录副本
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Stub) record(call Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.calls = append(s.calls, call)
	return nil
}

func (s *Stub) Cancel(ctx context.Context, ref SubscriptionRef) error {
	return s.record(Call{Method: "cancel", Ref: ref})
}

func (s *Stub) Resume(ctx context.Context, ref SubscriptionRef) error {
	return s.record(Call{Method: "resume", Ref: ref})
}

func (s *Stub) Refund(ctx context.Context, ref SubscriptionRef, params RefundParams) (string, error) {
	if err := s.record(Call{Method: "refund", Ref: ref, Params: params}); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("re_stub_%d", s.seq), nil
}
