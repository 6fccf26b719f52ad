// internal/telemetry/telemetry.go
package telemetry

import (
	"vigil-sdk/internal/bus"
	"vigil-sdk/internal/clock"

	zlog "github.com/rs/zerolog/log"
)

// 파이프라인의 어떤 실패도 호스트 앱으로 throw 되지 않는다.
// SDK 운영자가 알아야 하는 실패는 전부 이 패키지를 거쳐
// (1) 내부 로그와 (2) bus 의 telemetry 메시지로 흘러간다.
// telemetry 메시지 자체도 하나의 feature message 이므로,
// telemetry feature 가 등록되어 있으면 다른 이벤트와 같은
// 파이프라인을 타고 intake 까지 올라간다.

// Label 은 telemetry 메시지의 bus label.
const Label = "telemetry"

// BaggageError 는 telemetry 메시지에서 ErrorEvent 가 실리는 baggage key.
const BaggageError = "error"

// Kind 는 내부 에러 분류 (§ 에러 택소노미).
type Kind string

const (
	// KindSerialization: 이벤트 인코딩 실패. 해당 이벤트만 drop.
	KindSerialization Kind = "serialization_error"
	// KindDecode: bus baggage 또는 저장 레코드 decode 실패. 해당 건만 skip.
	KindDecode Kind = "decode_error"
	// KindUploadRejected: intake 가 non-retryable 로 거부, batch purge.
	KindUploadRejected Kind = "upload_rejected"
	// KindStoragePurge: 용량/TTL 정책으로 batch 를 선제 삭제.
	KindStoragePurge Kind = "storage_purge"
	// KindCorruptRecord: 읽기 경로에서 torn write 레코드를 건너뜀.
	KindCorruptRecord Kind = "corrupt_record"
)

// ErrorEvent 는 bus 에 실리는 telemetry payload.
type ErrorEvent struct {
	Kind    Kind   `json:"kind"`
	Feature string `json:"feature,omitempty"`
	Message string `json:"message"`
	At      int64  `json:"at"` // unix milliseconds (단말 시계 기준)
}

// Reporter 는 내부 에러를 로그 + bus 메시지로 내보낸다.
// bus 가 nil 이어도 동작한다 (테스트 및 부분 조립 대응).
type Reporter struct {
	bus *bus.Bus
	clk clock.Clock
}

func NewReporter(b *bus.Bus, clk clock.Clock) *Reporter {
	return &Reporter{bus: b, clk: clk}
}

// Error 는 분류된 내부 에러 1건을 보고한다.
// 호출자는 이미 해당 실패를 흡수(drop/purge/skip)한 뒤여야 한다.
func (r *Reporter) Error(kind Kind, feature, msg string) {
	zlog.Debug().
		Str("kind", string(kind)).
		Str("feature", feature).
		Msg(msg)

	if r == nil || r.bus == nil {
		return
	}

	ev := ErrorEvent{
		Kind:    kind,
		Feature: feature,
		Message: msg,
		At:      r.clk.Now().UnixMilli(),
	}

	m := bus.NewMessage(Label)
	if err := m.Set(BaggageError, ev); err != nil {
		// telemetry 자신의 인코딩 실패는 로그로만 남긴다.
		// 여기서 다시 보고하면 재귀가 된다.
		zlog.Warn().Err(err).Msg("telemetry encode failed")
		return
	}
	r.bus.Send(m)
}
