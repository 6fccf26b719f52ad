// internal/sdkctx/context.go
package sdkctx

import (
	"time"

	json "github.com/goccy/go-json"
)

// Consent 는 수집 데이터의 영속/업로드 가능 여부를 결정하는 3-state 게이트.
type Consent string

const (
	// ConsentPending: 아직 사용자 동의를 받지 못한 상태.
	// 이벤트는 pending 영역에 격리 저장되고 업로드되지 않는다.
	ConsentPending Consent = "pending"
	// ConsentGranted: 수집/업로드 허용. pending 데이터는 업로드 영역으로 승격.
	ConsentGranted Consent = "granted"
	// ConsentDenied: 수집 거부. 신규 이벤트는 버려지고 pending 데이터는 purge.
	ConsentDenied Consent = "denied"
)

// User 는 호스트 앱이 지정한 현재 사용자 정보.
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Device 는 단말 정보 스냅샷.
type Device struct {
	Brand     string `json:"brand,omitempty"`
	Model     string `json:"model,omitempty"`
	OSName    string `json:"os_name,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
}

// Network 는 현재 네트워크 도달성 신호.
// 값 자체는 호스트 앱(플랫폼 어댑터)이 밀어 넣는다.
type Network struct {
	Reachable bool `json:"reachable"`
	Metered   bool `json:"metered"`
}

// Battery 는 현재 전원 상태 신호.
type Battery struct {
	Level    int  `json:"level"` // 0~100 (%)
	Charging bool `json:"charging"`
}

// ------------------------------------------------------------
// feature 간 계약으로 쓰이는 baggage key.
// 이름을 바꾸면 다른 feature 의 receiver 가 깨지므로 함부로 변경하지 말 것.
// ------------------------------------------------------------
const (
	BaggageApplicationID = "application_id"
	BaggageSessionID     = "session_id"
	BaggageViewID        = "view_id"
	BaggageHasReplay     = "has_replay"         // 세션 리플레이 녹화 여부 플래그
	BaggageServerOffset  = "server_time_offset" // 서버-단말 시각 보정값 (nanoseconds)
	BaggageRUM           = "rum"                // 로그 상관관계용 RUM 컨텍스트
	BaggageSpan          = "span"               // 트레이스 상관관계용 active span
)

// Context 는 모든 producer 가 이벤트에 붙이는 프로세스 전역 메타데이터 스냅샷이다.
//
// Core 가 값 변경 시마다 제자리 갱신(Provider.Update)하며,
// 각 읽기는 특정 시점의 일관된 복사본을 얻는다.
// 수명 = 프로세스 수명. SDK init 때 만들어지고 stop 때 버려진다.
type Context struct {
	// 환경 식별자
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
	Build   string `json:"build,omitempty"`

	// 세션/뷰 식별자
	ApplicationID string `json:"application_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	ViewID        string `json:"view_id,omitempty"`

	User    User    `json:"user,omitempty"`
	Device  Device  `json:"device,omitempty"`
	Network Network `json:"network"`
	Battery Battery `json:"battery"`

	Consent Consent `json:"consent"`

	// ServerTimeOffset
	// 단말 시계와 서버 시계의 차이. 이벤트 timestamp 는
	// "write 시점에 알려진 최신 offset"으로 보정되며 소급 적용하지 않는다.
	ServerTimeOffset time.Duration `json:"server_time_offset"`

	// Baggage
	// 다른 feature 가 기여한 opaque payload (key → 인코딩된 JSON).
	// 소비자가 필요할 때 지연 decode 한다. decode 실패는 보고 대상일 뿐
	// 치명적이지 않다.
	Baggage map[string]json.RawMessage `json:"-"`
}

// clone 은 baggage map 까지 복사한 독립 스냅샷을 만든다.
// 반환된 Context 를 들고 있는 쪽과 Provider 내부 상태가
// 서로 영향을 주지 않게 하기 위함이다.
func (c Context) clone() Context {
	out := c
	if c.Baggage != nil {
		out.Baggage = make(map[string]json.RawMessage, len(c.Baggage))
		for k, v := range c.Baggage {
			out.Baggage[k] = v
		}
	}
	return out
}

// DecodeBaggage 는 baggage 의 특정 key 를 out 으로 decode 한다.
// key 가 없으면 ErrNoBaggage 를 반환한다.
func (c Context) DecodeBaggage(key string, out any) error {
	raw, ok := c.Baggage[key]
	if !ok {
		return ErrNoBaggage
	}
	return json.Unmarshal(raw, out)
}
