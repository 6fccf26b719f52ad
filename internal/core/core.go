package core

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vigil-sdk/internal/bus"
	"vigil-sdk/internal/clock"
	"vigil-sdk/internal/config"
	"vigil-sdk/internal/metrics"
	"vigil-sdk/internal/sampler"
	"vigil-sdk/internal/sdkctx"
	"vigil-sdk/internal/storage"
	"vigil-sdk/internal/telemetry"
	"vigil-sdk/internal/uploader"
)

// ---------------------------------------------------------------
// core
//
// SDK 의 조립 지점. feature 별 파이프라인(store + writer + scheduler)을
// 만들고, 전 feature 가 공유하는 싱글톤(context provider, bus, metrics,
// intake client)을 소유한다.
//
// 세션 샘플링 결정은 여기서 "세션당 한 번" 내려지고 모든 feature 의
// writer 에 주입된다. 샘플링에서 제외된 세션도 scheduler 는 돌린다.
// 이전 세션이 디스크에 남긴 배치는 여전히 업로드되어야 하기 때문이다.
// ---------------------------------------------------------------

var ErrFeatureAlreadyRegistered = errors.New("feature already registered")

// FeatureConfig
// feature 등록 시 전역 설정을 덮어쓰는 선택적 값들. zero value 는
// "전역 설정 사용" 을 뜻한다.
type FeatureConfig struct {
	MaxBatchBytes  int64
	MaxBatchAge    time.Duration
	MaxRecordBytes int64
	WriteQueueSize int
}

type feature struct {
	store  *storage.Store
	writer *storage.Writer
	sched  *uploader.Scheduler
}

type Core struct {
	cfg      config.Config
	m        *metrics.Metrics
	bus      *bus.Bus
	provider *sdkctx.Provider
	rep      *telemetry.Reporter
	client   *uploader.Client

	// sampled=false 면 이 세션의 모든 신규 이벤트는 버려진다.
	sampled bool

	mu       sync.Mutex
	features map[string]*feature
	stopped  bool
	stopOnce sync.Once
}

func New(cfg config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := metrics.New()
	b := bus.New(m)
	clk := clock.System()
	rep := telemetry.NewReporter(b, clk)

	sampled := sampler.New(cfg.SessionSampleRate).Sample()

	// consent 는 항상 pending 으로 시작한다. granted 를 기본값으로 두면
	// 호스트 앱이 동의를 묻기도 전에 업로드가 나가 버린다.
	// network/battery 는 호스트가 신호를 넣어주기 전까지는
	// "업로드 가능" 쪽으로 가정한다.
	initial := sdkctx.Context{
		Service:       cfg.Service,
		Env:           cfg.Env,
		Version:       cfg.Version,
		Build:         cfg.Build,
		ApplicationID: cfg.ApplicationID,
		Consent:       sdkctx.ConsentPending,
		Network:       sdkctx.Network{Reachable: true},
		Battery:       sdkctx.Battery{Level: 100},
	}
	provider := sdkctx.NewProvider(clk, initial)

	c := &Core{
		cfg:      cfg,
		m:        m,
		bus:      b,
		provider: provider,
		rep:      rep,
		client:   uploader.NewClient(cfg, m),
		sampled:  sampled,
		features: make(map[string]*feature),
	}

	log.Info().
		Str("session_id", provider.Current().SessionID).
		Bool("session_sampled", sampled).
		Str("root_dir", cfg.RootDir).
		Msg("sdk core initialized")
	return c, nil
}

// Provider 는 공유 context provider. facade 의 setter 들이 사용한다.
func (c *Core) Provider() *sdkctx.Provider { return c.provider }

// Bus 는 공유 message bus. receiver 등록과 cross-feature 전파용.
func (c *Core) Bus() *bus.Bus { return c.bus }

// Metrics 는 운영 카운터 스냅샷 접근용.
func (c *Core) Metrics() *metrics.Metrics { return c.m }

// Register 는 feature 파이프라인을 만들고 즉시 기동한다.
// 같은 이름의 중복 등록은 에러. 등록 순간부터 복구 스캔이 돌고
// 이전 세션의 배치가 업로드 대상이 된다.
func (c *Core) Register(name string, fc FeatureConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return errors.New("sdk already stopped")
	}
	if _, ok := c.features[name]; ok {
		return ErrFeatureAlreadyRegistered
	}

	cfg := c.cfg
	if fc.MaxBatchBytes > 0 {
		cfg.MaxBatchBytes = fc.MaxBatchBytes
	}
	if fc.MaxBatchAge > 0 {
		cfg.MaxBatchAge = fc.MaxBatchAge
	}
	if fc.MaxRecordBytes > 0 {
		cfg.MaxRecordBytes = fc.MaxRecordBytes
	}
	if fc.WriteQueueSize > 0 {
		cfg.WriteQueueSize = fc.WriteQueueSize
	}

	store, err := storage.NewStore(name, cfg, c.m, c.rep)
	if err != nil {
		return err
	}

	f := &feature{
		store: store,
		writer: storage.NewWriter(store, c.provider, c.rep, c.m,
			cfg.WriteQueueSize, cfg.MaxRecordBytes, c.sampled),
		sched: uploader.NewScheduler(cfg, name, store, c.client, c.provider, c.rep, c.m),
	}
	f.writer.Start()
	f.sched.Start()
	c.features[name] = f

	log.Info().Str("feature", name).Msg("feature registered")
	return nil
}

// Scope 는 feature 의 이벤트 쓰기 핸들을 돌려준다.
// 등록되지 않은 feature 면 ok=false.
func (c *Core) Scope(name string) (storage.EventWriter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.features[name]
	if !ok {
		return nil, false
	}
	return f.writer, true
}

// SendMessage 는 bus 에 동기 multicast 한다.
func (c *Core) SendMessage(msg bus.Message) {
	c.bus.Send(msg)
}

// SetConsent 는 동의 상태를 context 에 반영하고 모든 feature 의
// 저장소에 전환을 전파한다.
//   - granted: pending 영역 배치를 순서 보존한 채 granted 로 이관
//   - denied : pending 영역 전체 purge (이후 write 는 writer 가 버림)
func (c *Core) SetConsent(consent sdkctx.Consent) {
	c.provider.Update(func(ctx *sdkctx.Context) {
		ctx.Consent = consent
	})

	c.mu.Lock()
	stores := make([]*storage.Store, 0, len(c.features))
	for _, f := range c.features {
		stores = append(stores, f.store)
	}
	c.mu.Unlock()

	switch consent {
	case sdkctx.ConsentGranted:
		for _, s := range stores {
			if err := s.MigratePending(); err != nil {
				log.Warn().Err(err).Str("feature", s.Feature()).
					Msg("pending batch migration failed")
			}
		}
	case sdkctx.ConsentDenied:
		for _, s := range stores {
			s.PurgePending()
		}
	}

	log.Info().Str("consent", string(consent)).Msg("tracking consent updated")
}

// FlushAll 은 모든 feature 의 큐를 디스크까지 내리고 배치를 닫는다.
// 호스트 앱이 백그라운드로 전환될 때 호출된다.
func (c *Core) FlushAll() {
	c.mu.Lock()
	writers := make([]*storage.Writer, 0, len(c.features))
	for _, f := range c.features {
		writers = append(writers, f.writer)
	}
	c.mu.Unlock()

	for _, w := range writers {
		w.Flush()
	}
}

// Stop 은 전체 파이프라인을 내린다. 멱등.
// scheduler 를 먼저 세워 업로드 중간 취소를 막은 뒤 writer 를 내린다.
// 큐에 남아 아직 durable 해지지 못한 이벤트는 유실될 수 있다.
func (c *Core) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		feats := make([]*feature, 0, len(c.features))
		for _, f := range c.features {
			feats = append(feats, f)
		}
		c.mu.Unlock()

		for _, f := range feats {
			f.sched.Stop()
		}
		for _, f := range feats {
			f.writer.Stop()
		}

		log.Info().Msg("sdk core stopped")
		log.Debug().Msg("final counters\n" + c.m.String())
	})
}
