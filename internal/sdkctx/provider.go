// internal/sdkctx/provider.go
package sdkctx

import (
	"errors"
	"sync"
	"time"

	"vigil-sdk/internal/clock"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrNoBaggage 는 요청한 baggage key 가 없을 때 반환된다.
var ErrNoBaggage = errors.New("sdkctx: baggage key not present")

// Provider 는 Context 의 단일 소유자이다.
//
// 동시성 규칙:
//   - 모든 변경은 Update 를 통해 단일 직렬화 지점(mu)을 거친다.
//   - Current 는 짧은 critical section 안에서 스냅샷을 복사해 나간다.
//     읽기가 쓰기를 블로킹하거나, 반쯤 갱신된 Context 를 보는 일은 없다.
//   - 구독자 콜백은 락 밖에서, 갱신 완료 후의 스냅샷으로 호출된다.
type Provider struct {
	mu   sync.RWMutex
	cur  Context
	subs []func(Context)

	clk clock.Clock
}

// NewProvider 는 초기 Context 로 Provider 를 만든다.
// SessionID 가 비어 있으면 새 UUID 를 발급한다.
func NewProvider(clk clock.Clock, initial Context) *Provider {
	if initial.SessionID == "" {
		initial.SessionID = uuid.NewString()
	}
	if initial.Consent == "" {
		initial.Consent = ConsentPending
	}
	if initial.Baggage == nil {
		initial.Baggage = make(map[string]json.RawMessage)
	}
	return &Provider{cur: initial, clk: clk}
}

// Current 는 일관된 시점 복사본을 반환한다. 실패하지 않는다.
func (p *Provider) Current() Context {
	p.mu.RLock()
	snap := p.cur.clone()
	p.mu.RUnlock()
	return snap
}

// Update 는 live context 에 변환을 적용한다.
// 동시 Update 는 직렬화되며, 이후의 Current 호출은 반영된 값을 본다.
func (p *Provider) Update(mutate func(*Context)) {
	p.mu.Lock()
	mutate(&p.cur)
	snap := p.cur.clone()
	subs := p.subs
	p.mu.Unlock()

	// 구독자는 락 밖에서 호출한다. 콜백 안에서 Current/Update 를
	// 다시 불러도 교착하지 않는다.
	for _, fn := range subs {
		fn(snap)
	}
}

// Subscribe 는 context 변경 시마다 스냅샷을 받는 콜백을 등록한다.
// Core 가 feature 들에 context 변경을 fan-out 할 때 사용한다.
func (p *Provider) Subscribe(fn func(Context)) {
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// SetBaggage 는 값을 인코딩해 baggage 에 싣는다.
// 인코딩 실패 시 기존 baggage 는 그대로 유지된다.
func (p *Provider) SetBaggage(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.Update(func(c *Context) {
		c.Baggage[key] = raw
	})
	return nil
}

// RemoveBaggage 는 key 를 제거한다.
func (p *Provider) RemoveBaggage(key string) {
	p.Update(func(c *Context) {
		delete(c.Baggage, key)
	})
}

// SetServerTimeOffset 은 서버 시각 보정값을 갱신한다.
// 이미 기록된 이벤트의 timestamp 는 소급 보정하지 않는다.
func (p *Provider) SetServerTimeOffset(d time.Duration) {
	p.Update(func(c *Context) {
		c.ServerTimeOffset = d
	})
}

// NowCorrected 는 "현재 알려진 최신 offset" 이 적용된 현재 시각을 반환한다.
// write 경로에서 이벤트 timestamp 를 찍을 때 사용한다.
func (p *Provider) NowCorrected() time.Time {
	p.mu.RLock()
	off := p.cur.ServerTimeOffset
	p.mu.RUnlock()
	return p.clk.Now().Add(off)
}
