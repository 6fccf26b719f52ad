// internal/storage/filename.go
package storage

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"vigil-sdk/internal/clock"
)

// filename.go
// ------------------------------------------------------------
// 배치 디렉토리 이름 규칙.
// 이 규칙은 정렬·TTL 판단·복구 스캔의 핵심이므로
// 예측 가능한 deterministic 패턴을 유지해야 한다.
//
// 이름 규칙:
//
//	<unix>_<instance>_<counter>.batch        (closed, 업로드 대상)
//	<unix>_<instance>_<counter>.batch.open   (writable, append 중)
//
// 예:
//
//	1764721594_iPhone15-3_000042.batch
//
// 정렬하면 곧 시간 순 정렬이므로,
// 업로드 스케줄러의 oldest-first 선택과
// 용량 초과 시 oldest-evicted 에 그대로 사용한다.
const (
	batchSuffix = ".batch"
	openSuffix  = ".batch.open"

	eventsFile = "events.ndjson"
	metaFile   = "meta.json"
)

var globalCounter uint64

// nextCounter
// ------------------------------------------------------------
// 원자적 증가 값으로 여러 goroutine에서 충돌 없이
// 순차 번호를 생성한다.
// 1,000,000에서 다시 0으로 돌아가지만 timestamp·instance ID 조합으로
// 전체 이름 충돌 가능성은 사실상 0에 가깝다.
func nextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// newOpenBatchName
// ------------------------------------------------------------
// 새로 여는 writable 배치의 디렉토리 이름을 생성한다.
// close 시 ".open" 만 떼어내므로(rename) 정렬 키는 변하지 않는다.
func newOpenBatchName(instanceID string) string {
	sec := clock.Unix()
	c := nextCounter()
	return fmt.Sprintf("%d_%s_%06d%s", sec, instanceID, c, openSuffix)
}

// closedName 은 .open 이름에서 closed 이름을 만든다.
func closedName(openName string) string {
	return strings.TrimSuffix(openName, ".open")
}

// isOpenBatch / isClosedBatch 는 디렉토리 이름으로 상태를 판정한다.
// 디스크에 있는 이름 그 자체가 배치 FSM 의 상태 저장소이다.
func isOpenBatch(name string) bool {
	return strings.HasSuffix(name, openSuffix)
}

func isClosedBatch(name string) bool {
	return strings.HasSuffix(name, batchSuffix) && !strings.HasSuffix(name, openSuffix)
}

// unixFromBatchName 은 이름 prefix 에서 생성 시각(Unix seconds)을 파싱한다.
// TTL 판단과 나이 기반 rotate 에 사용한다.
func unixFromBatchName(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
