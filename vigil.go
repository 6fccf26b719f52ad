// Package vigil 은 모바일/클라이언트 관측 SDK 의 공개 표면이다.
//
// 호스트 앱은 이 패키지만 import 한다. 내부 기계장치(저장, 업로드,
// bus)는 전부 internal/ 아래에 있고, 여기서는 타입 별칭과 얇은
// 위임 메서드로만 노출한다.
//
// 사용 흐름:
//
//	cfg := vigil.DefaultConfig()
//	cfg.ClientToken = "..."
//	cfg.Service = "my-app"
//	cfg.IntakeBaseURL = "https://intake.example.com"
//	cfg.RootDir = "/data/vigil"
//
//	sdk, err := vigil.Start(cfg)
//	...
//	sdk.RegisterFeature("logs", vigil.FeatureConfig{})
//	w, _ := sdk.Scope("logs")
//	w.Write(myEvent)
//	...
//	sdk.Stop()
//
// Write 는 절대 블로킹하지 않고 어떤 실패도 호스트로 전파하지 않는다.
package vigil

import (
	"errors"
	"sync"
	"time"

	"vigil-sdk/internal/bus"
	"vigil-sdk/internal/config"
	"vigil-sdk/internal/core"
	"vigil-sdk/internal/logger"
	"vigil-sdk/internal/sdkctx"
	"vigil-sdk/internal/storage"
)

// 호스트 앱이 internal 패키지를 import 하지 않아도 되도록
// 공개 계약 타입은 전부 여기서 별칭으로 노출한다.
type (
	Config        = config.Config
	FeatureConfig = core.FeatureConfig
	Consent       = sdkctx.Consent
	User          = sdkctx.User
	Device        = sdkctx.Device
	EventWriter   = storage.EventWriter
	Message       = bus.Message
	Receiver      = bus.Receiver
	ReceiverFunc  = bus.ReceiverFunc
	Result        = bus.Result
)

const (
	ConsentPending = sdkctx.ConsentPending
	ConsentGranted = sdkctx.ConsentGranted
	ConsentDenied  = sdkctx.ConsentDenied

	NotMine     = bus.NotMine
	Consumed    = bus.Consumed
	DecodeError = bus.DecodeError
)

// ErrAlreadyStarted 는 Stop 없이 Start 를 다시 호출했을 때 반환된다.
// SDK 인스턴스는 프로세스당 하나만 활성일 수 있다.
var ErrAlreadyStarted = errors.New("vigil: sdk already started")

// ErrFeatureAlreadyRegistered 는 같은 feature 를 두 번 등록했을 때 반환된다.
var ErrFeatureAlreadyRegistered = core.ErrFeatureAlreadyRegistered

func DefaultConfig() Config { return config.Default() }

// NewMessage 는 bus 메시지를 만든다. 값은 Set 으로 싣는다.
func NewMessage(label string) Message { return bus.NewMessage(label) }

var (
	activeMu sync.Mutex
	active   *SDK
)

// SDK 는 기동된 파이프라인 전체의 핸들이다.
type SDK struct {
	core *core.Core
}

// Start 는 SDK 를 기동한다. 설정 검증에 실패하면 아무것도 기동되지
// 않고 에러만 돌아온다. 이미 활성 인스턴스가 있으면 ErrAlreadyStarted.
func Start(cfg Config) (*SDK, error) {
	activeMu.Lock()
	defer activeMu.Unlock()

	if active != nil {
		return nil, ErrAlreadyStarted
	}

	logger.Init(cfg)

	c, err := core.New(cfg)
	if err != nil {
		return nil, err
	}

	s := &SDK{core: c}
	active = s
	return s, nil
}

// Stop 은 파이프라인 전체를 내린다. 멱등이며, 이후 새 Start 가 가능하다.
func (s *SDK) Stop() {
	activeMu.Lock()
	if active == s {
		active = nil
	}
	activeMu.Unlock()

	s.core.Stop()
}

// RegisterFeature 는 feature 파이프라인(저장소 + 업로더)을 만들고 기동한다.
func (s *SDK) RegisterFeature(name string, fc FeatureConfig) error {
	return s.core.Register(name, fc)
}

// Scope 는 feature 의 이벤트 쓰기 핸들을 돌려준다.
func (s *SDK) Scope(name string) (EventWriter, bool) {
	return s.core.Scope(name)
}

// OnMessage 는 feature 이름으로 bus receiver 를 등록한다.
// receiver 는 발행자 스레드에서 동기 호출되므로 블로킹하면 안 된다.
func (s *SDK) OnMessage(feature string, r Receiver) error {
	return s.core.Bus().Register(feature, r)
}

// SendMessage 는 등록된 모든 receiver 에 메시지를 동기 전달한다.
func (s *SDK) SendMessage(msg Message) {
	s.core.SendMessage(msg)
}

// SetUser 는 이후 기록되는 이벤트에 붙을 사용자 정보를 갱신한다.
func (s *SDK) SetUser(u User) {
	s.core.Provider().Update(func(c *sdkctx.Context) { c.User = u })
}

// SetDevice 는 단말 정보를 갱신한다. 보통 init 직후 한 번 호출된다.
func (s *SDK) SetDevice(d Device) {
	s.core.Provider().Update(func(c *sdkctx.Context) { c.Device = d })
}

// SetViewID 는 현재 화면 식별자를 갱신한다.
func (s *SDK) SetViewID(id string) {
	s.core.Provider().Update(func(c *sdkctx.Context) { c.ViewID = id })
}

// SetNetworkStatus 는 플랫폼의 도달성 신호를 반영한다.
// reachable=false 면 업로드가 보류된다.
func (s *SDK) SetNetworkStatus(reachable, metered bool) {
	s.core.Provider().Update(func(c *sdkctx.Context) {
		c.Network = sdkctx.Network{Reachable: reachable, Metered: metered}
	})
}

// SetBatteryStatus 는 전원 신호를 반영한다. level 은 0~100(%).
func (s *SDK) SetBatteryStatus(level int, charging bool) {
	s.core.Provider().Update(func(c *sdkctx.Context) {
		c.Battery = sdkctx.Battery{Level: level, Charging: charging}
	})
}

// SetTrackingConsent 는 수집 동의 상태를 전환한다.
//   - granted: 격리 저장된 데이터가 업로드 대상으로 승격된다.
//   - denied : 격리 데이터는 삭제되고 이후 이벤트는 버려진다.
func (s *SDK) SetTrackingConsent(c Consent) {
	s.core.SetConsent(c)
}

// SetServerTimeOffset 은 서버-단말 시각 보정값을 갱신한다.
// 이후 이벤트의 timestamp 부터 적용된다.
func (s *SDK) SetServerTimeOffset(d time.Duration) {
	s.core.Provider().SetServerTimeOffset(d)
}

// SetBaggage 는 feature 간 공유 컨텍스트 조각을 싣는다.
func (s *SDK) SetBaggage(key string, v any) error {
	return s.core.Provider().SetBaggage(key, v)
}

// RemoveBaggage 는 공유 컨텍스트 조각을 제거한다.
func (s *SDK) RemoveBaggage(key string) {
	s.core.Provider().RemoveBaggage(key)
}

// Flush 는 모든 feature 의 큐를 디스크까지 내린다.
// 앱이 백그라운드로 전환되기 직전에 호출하는 것을 권장한다.
func (s *SDK) Flush() {
	s.core.FlushAll()
}

// Metrics 는 운영 카운터의 텍스트 덤프를 돌려준다. 디버깅/지원용.
func (s *SDK) Metrics() string {
	return s.core.Metrics().String()
}
