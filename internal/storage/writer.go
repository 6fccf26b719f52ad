// internal/storage/writer.go
package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"vigil-sdk/internal/metrics"
	"vigil-sdk/internal/sdkctx"
	"vigil-sdk/internal/telemetry"

	zlog "github.com/rs/zerolog/log"
)

// EventWriter 는 producer 가 Core.Scope 를 통해 얻는 유일한 쓰기 인터페이스.
type EventWriter interface {
	// Write 는 이벤트를 비동기로 기록한다. 호출자는 즉시 반환되며,
	// 어떤 실패도 호출자에게 전파되지 않는다 (drop + 내부 보고).
	Write(event any)
	// Flush 는 큐에 쌓인 이벤트를 디스크까지 내리고
	// 현재 writable 배치를 close 한다. 앱 백그라운드 전환용.
	Flush()
}

// Writer 는 feature 하나의 write 파이프라인이다.
//
// 호출 스레드 → ch(버퍼 채널) → 전용 goroutine → Store 순으로 흐른다.
// feature 당 goroutine 이 하나뿐이므로 같은 배치에 대한 쓰기가
// 절대 interleave 하지 않고, write 순서 = 프로그램 순서가 보장된다.
//
// 큐가 가득 차면 이벤트는 그 자리에서 버려진다 (fail-fast backpressure).
// 디스크가 밀리는 상황에서 호출자(UI 스레드일 수 있다)를 붙잡는 것보다
// 데이터를 버리는 쪽이 SDK 의 올바른 선택이다.
type Writer struct {
	store    *Store
	provider *sdkctx.Provider
	rep      *telemetry.Reporter
	m        *metrics.Metrics

	maxRecord int64

	// sessionSampled=false 면 이 세션의 이벤트는 전부 버린다.
	// 세션 단위 샘플링 결정은 SDK init 시 한 번 내려진다.
	sessionSampled bool

	ch      chan any
	flushCh chan chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

func NewWriter(store *Store, provider *sdkctx.Provider, rep *telemetry.Reporter,
	m *metrics.Metrics, queueSize int, maxRecord int64, sessionSampled bool) *Writer {

	w := &Writer{
		store:          store,
		provider:       provider,
		rep:            rep,
		m:              m,
		maxRecord:      maxRecord,
		sessionSampled: sessionSampled,
		ch:             make(chan any, queueSize),
		flushCh:        make(chan chan struct{}),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w
}

// Start 는 전용 write goroutine 을 기동한다.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop 은 write goroutine 을 멈추고 writable 배치를 close 한다.
// 아직 큐에 남아 durable 해지지 못한 이벤트는 유실될 수 있다
// (teardown 시점의 수용된 리스크이며, 동기 flush 는 시도하지 않는다).
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.wg.Wait()
		w.store.Close()
	})
}

// Write 는 이벤트를 큐에 넣는다. 블로킹하지 않는다.
func (w *Writer) Write(event any) {
	if !w.sessionSampled {
		return
	}

	select {
	case <-w.ctx.Done():
		// teardown 이후의 write 는 조용히 버린다.
	case w.ch <- event:
		atomic.AddInt64(&w.m.EventsAcceptedTotal, 1)
	default:
		atomic.AddInt64(&w.m.EventsDroppedQueueFullTotal, 1)
	}
}

// Flush 는 큐 drain + 배치 close 가 끝날 때까지 기다린다.
func (w *Writer) Flush() {
	done := make(chan struct{})
	select {
	case <-w.ctx.Done():
		return
	case w.flushCh <- done:
	}
	select {
	case <-w.ctx.Done():
	case <-done:
	}
}

// loop 는 feature 전용 직렬 쓰기 루프이다.
func (w *Writer) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev := <-w.ch:
			w.process(ev)

		case done := <-w.flushCh:
			// flush 요청 시점까지 큐에 들어온 이벤트를 먼저 비운다.
			w.drain()
			w.store.Flush()
			close(done)
		}
	}
}

// drain 은 현재 큐에 쌓여 있는 이벤트를 모두 처리한다 (비대기).
func (w *Writer) drain() {
	for {
		select {
		case ev := <-w.ch:
			w.process(ev)
		default:
			return
		}
	}
}

// process 는 이벤트 1건을 직렬화해 디스크에 내린다.
// 실패는 전부 여기서 흡수된다.
func (w *Writer) process(event any) {
	// 매 이벤트마다 "그 시점의" Context 스냅샷을 뜬다.
	snap := w.provider.Current()

	// consent=denied: 이벤트는 조용히 버려진다 (제품 정책).
	if snap.Consent == sdkctx.ConsentDenied {
		atomic.AddInt64(&w.m.EventsDroppedConsentTotal, 1)
		return
	}

	area := AreaGranted
	if snap.Consent == sdkctx.ConsentPending {
		area = AreaPending
	}

	rec, err := Seal(snap, w.provider.NowCorrected(), event)
	if err != nil {
		// malformed payload 는 일시 장애가 아니므로 재시도하지 않는다.
		atomic.AddInt64(&w.m.EventsDroppedSerializeTotal, 1)
		w.rep.Error(telemetry.KindSerialization, w.store.Feature(), err.Error())
		return
	}

	if int64(len(rec)) > w.maxRecord {
		atomic.AddInt64(&w.m.EventsDroppedTooLargeTotal, 1)
		w.rep.Error(telemetry.KindSerialization, w.store.Feature(),
			fmt.Sprintf("record too large: %d bytes", len(rec)))
		return
	}

	if err := w.store.WriteRecord(rec, area); err != nil {
		zlog.Warn().Err(err).Str("feature", w.store.Feature()).Msg("write failed")
	}
}
