package uploader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"vigil-sdk/internal/config"
	"vigil-sdk/internal/metrics"
	"vigil-sdk/internal/sdkctx"
	"vigil-sdk/internal/storage"
	"vigil-sdk/internal/telemetry"
)

// ---------------------------------------------------------------
// upload scheduler
//
// feature 당 1개의 고루틴이 타이머 기반으로 도는 single-flight 루프.
// 한 tick 에 배치 최대 1개만 전송하고, tick 결과에 따라 다음 타이머
// 간격을 적응형으로 재산정한다.
//
//   - 전송 성공            → 간격 축소 (쌓인 배치를 빠르게 비움)
//   - 일시 장애 / 빈 큐     → 간격 확대 (배터리, 네트워크 절약)
//   - 업로드 조건 미충족     → 전송 시도 없이 간격 확대
//
// 같은 feature 의 배치가 동시에 2개 업로드되는 일은 구조적으로 없다.
// 배치 삭제는 항상 "성공 응답 수신 이후" 이므로, 전송 도중 프로세스가
// 죽으면 같은 배치가 다시 전송될 수 있다(최소 1회 전달).
// ---------------------------------------------------------------

type Scheduler struct {
	feature  string
	store    *storage.Store
	client   *Client
	delay    *Delay
	provider *sdkctx.Provider
	rep      *telemetry.Reporter
	m        *metrics.Metrics

	minBattery       int
	requireUnmetered bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewScheduler(
	cfg config.Config,
	feature string,
	store *storage.Store,
	client *Client,
	provider *sdkctx.Provider,
	rep *telemetry.Reporter,
	m *metrics.Metrics,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		feature:          feature,
		store:            store,
		client:           client,
		delay:            NewDelay(cfg.MinUploadDelay, cfg.MaxUploadDelay, cfg.DelayChangeRate),
		provider:         provider,
		rep:              rep,
		m:                m,
		minBattery:       cfg.MinBatteryLevel,
		requireUnmetered: cfg.RequireUnmetered,
		ctx:              ctx,
		cancel:           cancel,
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()

	log.Info().
		Str("feature", s.feature).
		Dur("min_delay", s.delay.min).
		Dur("max_delay", s.delay.max).
		Msg("upload scheduler started")
}

// Stop
// 루프 종료를 지시하고 완전히 내려갈 때까지 대기한다.
// 전송 중이던 시도는 ctx 취소로 중단되며 배치는 디스크에 남는다.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		log.Info().
			Str("feature", s.feature).
			Msg("upload scheduler stopped")
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.delay.Current())
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			timer.Reset(s.tick(s.ctx))
		}
	}
}

// tick
// 1회 업로드 사이클. 다음 타이머 간격을 돌려준다.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	if reason := s.blocker(); reason != "" {
		log.Debug().
			Str("feature", s.feature).
			Str("reason", reason).
			Msg("upload blocked")
		return s.delay.Grow()
	}

	batch, ok := s.store.OldestEligible()
	if !ok {
		// 보낼 것이 없으면 점점 느리게 깨어난다.
		return s.delay.Grow()
	}

	records, err := s.store.ReadBatch(batch)
	if err != nil {
		// 배치 디렉터리 자체를 못 읽는 수준의 손상.
		// 보존해도 영원히 같은 자리에서 막히므로 폐기하고 넘어간다.
		log.Warn().
			Str("feature", s.feature).
			Str("batch", batch.Name).
			Err(err).
			Msg("unreadable batch purged")
		s.store.DeleteBatch(batch)
		atomic.AddInt64(&s.m.BatchesPurgedRejectedTotal, 1)
		s.rep.Error(telemetry.KindCorruptRecord, s.feature,
			fmt.Sprintf("unreadable batch %s: %v", batch.Name, err))
		return s.delay.Grow()
	}
	if len(records) == 0 {
		// 전 레코드가 손상으로 스킵된 배치. 전송할 내용이 없다.
		s.store.DeleteBatch(batch)
		return s.delay.Current()
	}

	out := s.client.UploadBatch(ctx, s.feature, records)
	switch out.Status {
	case StatusSuccess:
		s.store.DeleteBatch(batch)
		atomic.AddInt64(&s.m.BatchesUploadedTotal, 1)
		log.Debug().
			Str("feature", s.feature).
			Str("batch", batch.Name).
			Int("records", len(records)).
			Msg("batch uploaded")
		return s.delay.Shrink()

	case StatusNonRetryable:
		// 서버가 명시적으로 거부한 배치. 재전송 금지, 폐기.
		s.store.DeleteBatch(batch)
		atomic.AddInt64(&s.m.BatchesPurgedRejectedTotal, 1)
		s.rep.Error(telemetry.KindUploadRejected, s.feature,
			fmt.Sprintf("intake rejected batch %s with status %d", batch.Name, out.Code))
		log.Warn().
			Str("feature", s.feature).
			Str("batch", batch.Name).
			Int("status", out.Code).
			Msg("batch rejected by intake, purged")
		return s.delay.Grow()

	default: // StatusRetryable
		next := s.delay.Grow()
		if out.RetryAfter > next {
			next = out.RetryAfter
		}
		log.Debug().
			Str("feature", s.feature).
			Str("batch", batch.Name).
			Int("status", out.Code).
			Dur("next_attempt", next).
			Msg("batch upload deferred")
		return next
	}
}

// blocker
// 현재 컨텍스트 스냅샷으로 업로드 보류 사유를 판정한다.
// 보류 사유가 없으면 빈 문자열.
func (s *Scheduler) blocker() string {
	snap := s.provider.Current()

	if snap.Consent != sdkctx.ConsentGranted {
		return "consent_not_granted"
	}
	if !snap.Network.Reachable {
		return "network_unreachable"
	}
	if s.requireUnmetered && snap.Network.Metered {
		return "network_metered"
	}
	if snap.Battery.Level < s.minBattery && !snap.Battery.Charging {
		return "battery_low"
	}
	return ""
}
