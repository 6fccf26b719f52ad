// internal/bus/bus.go
package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"vigil-sdk/internal/metrics"

	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

// Bus 는 feature 간 in-process publish/subscribe 채널이다.
//
// RUM 이 기록 중인 세션/뷰 식별자를 Logs 가 이벤트에 실어 보내거나,
// crash 핸들러가 마지막 RUM 컨텍스트를 회수하는 식의
// "feature 간 baggage 교환"을 직접 의존성 없이 처리한다.
//
// 전달 모델:
//   - Send 는 발행자 호출 스레드에서 동기적으로 receiver 들을 순회한다.
//   - 등록 순서대로 전달하며, 아무도 소비하지 않은 메시지는 그냥 버린다.
//     (multicast / best-effort. 전달 보장이 필요한 채널이 아니다.)
//   - receiver 는 블로킹하면 안 된다. 긴 작업은 내부에서 async 로 넘길 것.
//     (구조적으로 강제하지는 않는 설계 계약이다.)
type Bus struct {
	mu      sync.Mutex
	entries []entry

	metrics *metrics.Metrics
}

type entry struct {
	feature  string
	receiver Receiver
}

// ErrReceiverAlreadyRegistered 는 같은 feature 이름으로
// receiver 를 두 번 등록하려 할 때 반환된다.
//
// 조용히 교체하면 feature 가 이중 초기화된 버그를 숨기게 되므로,
// 재등록은 명시적인 에러로 처리한다. 교체가 필요하면
// Deregister 후 다시 Register 해야 한다.
var ErrReceiverAlreadyRegistered = errors.New("bus: receiver already registered for feature")

func New(m *metrics.Metrics) *Bus {
	return &Bus{metrics: m}
}

// Register 는 feature 이름으로 receiver 를 등록한다.
// 전달 순서는 등록 순서와 같다.
func (b *Bus) Register(feature string, r Receiver) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.feature == feature {
			return ErrReceiverAlreadyRegistered
		}
	}

	b.entries = append(b.entries, entry{feature: feature, receiver: r})
	return nil
}

// Deregister 는 feature 의 receiver 를 제거한다.
// 등록되어 있지 않으면 아무 일도 하지 않는다.
func (b *Bus) Deregister(feature string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.feature == feature {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// Send 는 메시지를 등록 순서대로 모든 receiver 에 전달한다.
//
// receiver 가 DecodeError 를 돌려줘도 (자기 메시지인데 내용이 깨진 경우)
// 전달은 멈추지 않는다. 해당 receiver 건만 카운터/로그로 남기고
// 다음 receiver 로 계속 진행한다.
func (b *Bus) Send(msg Message) {
	// receiver 실행 중에 락을 쥐고 있으면 receiver 내부의
	// 재등록/발행과 교착할 수 있으므로 스냅샷을 떠서 순회한다.
	b.mu.Lock()
	targets := make([]entry, len(b.entries))
	copy(targets, b.entries)
	b.mu.Unlock()

	atomic.AddInt64(&b.metrics.BusMessagesSentTotal, 1)

	for _, e := range targets {
		switch e.receiver.Receive(msg) {
		case Consumed, NotMine:
			// 정상 경로. NotMine 은 에러가 아니다.
		case DecodeError:
			atomic.AddInt64(&b.metrics.BusDecodeErrorsTotal, 1)
			zlog.Warn().
				Str("feature", e.feature).
				Str("label", msg.Label).
				Msg("bus receiver failed to decode its own message")
		}
	}
}

// ------------------------------------------------------------
// Message / Receiver
// ------------------------------------------------------------

// Message 는 bus 를 타고 다니는 tagged payload 이다.
//
// Label 로 메시지 종류를 구분하고, Baggage 는 key별로 인코딩된
// JSON 조각을 담는다. receiver 는 자기가 아는 key 만 골라서
// 지연 decode 하므로, 모르는 key 가 실려 있어도 전방 호환이 깨지지 않는다.
type Message struct {
	Label   string
	Baggage map[string]json.RawMessage
}

// NewMessage 는 빈 baggage 를 가진 메시지를 만든다.
func NewMessage(label string) Message {
	return Message{
		Label:   label,
		Baggage: make(map[string]json.RawMessage),
	}
}

// Set 은 값을 인코딩해 baggage 에 싣는다.
func (m Message) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.Baggage[key] = raw
	return nil
}

// ErrNoBaggageKey 는 요청한 key 가 baggage 에 실려 있지 않을 때 반환된다.
var ErrNoBaggageKey = errors.New("bus: baggage key not present")

// Decode 는 baggage 의 특정 key 를 out 으로 decode 한다.
//   - key 없음        → ErrNoBaggageKey (NotMine 판단용)
//   - decode 실패     → 해당 에러 (DecodeError 판단용)
func (m Message) Decode(key string, out any) error {
	raw, ok := m.Baggage[key]
	if !ok {
		return ErrNoBaggageKey
	}
	return json.Unmarshal(raw, out)
}

// Result 는 receiver 의 소비 결과이다.
//
// 단순 bool 이 아니라 3-state 로 두는 이유:
// "내 메시지가 아니다"와 "내 메시지인데 decode 가 깨졌다"는
// 운영상 완전히 다른 신호이고, 테스트에서도 구분되어야 한다.
type Result int

const (
	// NotMine: label/key 가 자기 관심사가 아님. 부작용 없이 통과.
	NotMine Result = iota
	// Consumed: 메시지를 해석해 소비함.
	Consumed
	// DecodeError: 자기 메시지인데 payload decode 에 실패함.
	DecodeError
)

// Receiver 는 bus 메시지를 소비할 수 있는 단일 능력이다.
// feature 초기화 시 Bus.Register 로 등록한다.
type Receiver interface {
	Receive(msg Message) Result
}

// ReceiverFunc 는 함수 하나짜리 receiver 어댑터.
type ReceiverFunc func(msg Message) Result

func (f ReceiverFunc) Receive(msg Message) Result { return f(msg) }
