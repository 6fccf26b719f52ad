package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 SDK 파이프라인 상태를 나타내는 카운터 모음이다.
// 모든 필드는 atomic 으로만 접근한다.
//
// Prometheus 같은 외부 노출용이 아니라, 내부 telemetry 와 함께
// "이벤트가 어디서 사라졌는가"를 추적하기 위한 운영 카운터들이다.
type Metrics struct {
	// ======================
	// Write 경로 지표
	// ======================

	// EventsAcceptedTotal
	// - Writer 큐(write channel)에 정상적으로 enqueue 된 이벤트 수.
	// - 아래 Dropped 계열과 합쳐 보면 producer 가 보낸 전체 규모를 알 수 있다.
	EventsAcceptedTotal int64

	// EventsDroppedQueueFullTotal
	// - write 큐가 가득 차서 즉시 버린 이벤트 수 (backpressure).
	// - 이 값이 증가하면 디스크 I/O 가 밀리고 있거나 큐 크기가 작다는 신호.
	EventsDroppedQueueFullTotal int64

	// EventsDroppedSerializeTotal
	// - 직렬화 실패로 버린 이벤트 수. malformed payload 는 재시도하지 않는다.
	EventsDroppedSerializeTotal int64

	// EventsDroppedTooLargeTotal
	// - MaxRecordBytes 초과로 버린 이벤트 수.
	EventsDroppedTooLargeTotal int64

	// EventsDroppedConsentTotal
	// - consent=denied 상태에서 write 가 시도되어 조용히 버린 이벤트 수.
	// - 버그가 아니라 제품 정책에 따른 정상 동작이다.
	EventsDroppedConsentTotal int64

	// EventsDroppedStorageFullTotal
	// - oldest purge 로도 MaxDiskBytes 아래로 공간을 확보하지 못해
	//   버린 이벤트 수. 0 이 아니면 디스크 상한 설정이 비현실적이라는 뜻.
	EventsDroppedStorageFullTotal int64

	// EventsWrittenTotal
	// - 실제로 batch 파일에 append 완료된 이벤트 수 (durable 기준).
	EventsWrittenTotal int64

	// ======================
	// Batch 지표
	// ======================

	BatchesCreatedTotal int64 // 새로 연 writable batch 수
	BatchesClosedTotal  int64 // close(rotate/flush) 된 batch 수

	// BatchesRecoveredTotal
	// - 프로세스 재시작 시 recovery scan 이 closed 로 승격시킨 batch 수.
	//   (크래시로 .open 상태로 남아있던 것 포함)
	BatchesRecoveredTotal int64

	// ======================
	// 업로드 지표
	// ======================

	UploadAttemptsTotal  int64 // intake 호출 시도 횟수 (재시도 포함)
	UploadErrorsTotal    int64 // 실패한 시도 횟수 (retryable + non-retryable)
	BatchesUploadedTotal int64 // 업로드 성공 후 삭제된 batch 수

	// BatchesPurgedRejectedTotal
	// - intake 가 non-retryable(4xx) 로 거부해서 purge 한 batch 수.
	// - head-of-line blocking 방지의 대가로 데이터가 사라진 것이므로
	//   0 이 아니면 payload 구성에 문제가 있다는 강한 신호.
	BatchesPurgedRejectedTotal int64

	// BatchesPurgedCapacityTotal
	// - MaxDiskBytes 초과로 oldest-evicted 된 batch 수.
	BatchesPurgedCapacityTotal int64

	// BatchesPurgedExpiredTotal
	// - BatchTTL 초과로 버린 batch 수.
	BatchesPurgedExpiredTotal int64

	// BatchesPurgedConsentTotal
	// - consent=denied 전환 시 pending 영역에서 purge 된 batch 수.
	BatchesPurgedConsentTotal int64

	// RecordsSkippedCorruptTotal
	// - 읽기 경로에서 깨진 레코드(torn write 등)를 건너뛴 횟수.
	RecordsSkippedCorruptTotal int64

	// ======================
	// Message Bus 지표
	// ======================

	BusMessagesSentTotal int64 // Send 호출 수
	BusDecodeErrorsTotal int64 // receiver 가 자기 메시지 decode 에 실패한 횟수

	// ======================
	// 저장소 gauge
	// ======================

	// StorageBytesCurrent
	// - 전체 feature 의 granted+pending 영역 배치 파일 총 바이트 수.
	// - 파일 생성/삭제 시마다 증감하며, 시작 시 디렉토리 스캔으로 초기화된다.
	StorageBytesCurrent int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "events_accepted_total=%d\n", atomic.LoadInt64(&m.EventsAcceptedTotal))
	fmt.Fprintf(&sb, "events_dropped_queue_full_total=%d\n", atomic.LoadInt64(&m.EventsDroppedQueueFullTotal))
	fmt.Fprintf(&sb, "events_dropped_serialize_total=%d\n", atomic.LoadInt64(&m.EventsDroppedSerializeTotal))
	fmt.Fprintf(&sb, "events_dropped_too_large_total=%d\n", atomic.LoadInt64(&m.EventsDroppedTooLargeTotal))
	fmt.Fprintf(&sb, "events_dropped_consent_total=%d\n", atomic.LoadInt64(&m.EventsDroppedConsentTotal))
	fmt.Fprintf(&sb, "events_dropped_storage_full_total=%d\n", atomic.LoadInt64(&m.EventsDroppedStorageFullTotal))
	fmt.Fprintf(&sb, "events_written_total=%d\n", atomic.LoadInt64(&m.EventsWrittenTotal))

	fmt.Fprintf(&sb, "batches_created_total=%d\n", atomic.LoadInt64(&m.BatchesCreatedTotal))
	fmt.Fprintf(&sb, "batches_closed_total=%d\n", atomic.LoadInt64(&m.BatchesClosedTotal))
	fmt.Fprintf(&sb, "batches_recovered_total=%d\n", atomic.LoadInt64(&m.BatchesRecoveredTotal))

	fmt.Fprintf(&sb, "upload_attempts_total=%d\n", atomic.LoadInt64(&m.UploadAttemptsTotal))
	fmt.Fprintf(&sb, "upload_errors_total=%d\n", atomic.LoadInt64(&m.UploadErrorsTotal))
	fmt.Fprintf(&sb, "batches_uploaded_total=%d\n", atomic.LoadInt64(&m.BatchesUploadedTotal))
	fmt.Fprintf(&sb, "batches_purged_rejected_total=%d\n", atomic.LoadInt64(&m.BatchesPurgedRejectedTotal))
	fmt.Fprintf(&sb, "batches_purged_capacity_total=%d\n", atomic.LoadInt64(&m.BatchesPurgedCapacityTotal))
	fmt.Fprintf(&sb, "batches_purged_expired_total=%d\n", atomic.LoadInt64(&m.BatchesPurgedExpiredTotal))
	fmt.Fprintf(&sb, "batches_purged_consent_total=%d\n", atomic.LoadInt64(&m.BatchesPurgedConsentTotal))
	fmt.Fprintf(&sb, "records_skipped_corrupt_total=%d\n", atomic.LoadInt64(&m.RecordsSkippedCorruptTotal))

	fmt.Fprintf(&sb, "bus_messages_sent_total=%d\n", atomic.LoadInt64(&m.BusMessagesSentTotal))
	fmt.Fprintf(&sb, "bus_decode_errors_total=%d\n", atomic.LoadInt64(&m.BusDecodeErrorsTotal))

	fmt.Fprintf(&sb, "storage_bytes_current=%d\n", atomic.LoadInt64(&m.StorageBytesCurrent))

	return sb.String()
}
