// internal/storage/envelope.go
package storage

import (
	"bytes"
	"time"

	"vigil-sdk/internal/pool"
	"vigil-sdk/internal/sdkctx"

	json "github.com/goccy/go-json"
)

// Envelope
// ------------------------------------------------------------
// 디스크에 기록되는 레코드 1건의 형태.
// producer 가 넘긴 이벤트(Data)에 write 시점의 Context 스냅샷을
// 병합한 것으로, 한 번 기록되면 불변이다.
//
// intake 는 이 형태 그대로(NDJSON 한 줄) 받으므로
// 업로드 경로에서는 재직렬화가 필요 없다.
type Envelope struct {
	At int64 `json:"at"` // 서버 offset 보정이 적용된 unix milliseconds

	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`

	ApplicationID string `json:"application_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	ViewID        string `json:"view_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`

	Data json.RawMessage `json:"data"`
}

// Seal 은 이벤트를 Context 스냅샷과 병합해 1줄짜리 레코드로 직렬화한다.
// 여기서의 에러는 malformed payload 이며, 재시도 대상이 아니다.
//
// 직렬화 버퍼는 pool 에서 재사용하고, 결과는 caller 소유의 새 slice 로
// 복사해 돌려준다 (pool 버퍼를 그대로 반환하면 corruption 위험).
func Seal(ctx sdkctx.Context, at time.Time, event any) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		At:            at.UnixMilli(),
		Service:       ctx.Service,
		Env:           ctx.Env,
		Version:       ctx.Version,
		ApplicationID: ctx.ApplicationID,
		SessionID:     ctx.SessionID,
		ViewID:        ctx.ViewID,
		UserID:        ctx.User.ID,
		Data:          data,
	}

	buf := pool.RecordPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(env); err != nil {
		pool.PutRecord(buf, pool.MaxBufferCap)
		return nil, err
	}

	// Encoder 가 붙인 trailing '\n' 은 저장 계층이 직접 관리하므로 떼어낸다.
	raw := bytes.TrimRight(buf.Bytes(), "\n")
	rec := make([]byte, len(raw))
	copy(rec, raw)

	pool.PutRecord(buf, pool.MaxBufferCap)
	return rec, nil
}
