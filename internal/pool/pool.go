package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// SDK 는 호스트 앱 안에서 초당 수백~수천 개의 이벤트를 직렬화하고,
// 업로드 시마다 batch 전체를 gzip 으로 다시 인코딩한다.
// 매번 버퍼와 gzip.Writer 를 새로 만들면 GC pressure 가
// 호스트 앱 성능에 그대로 전가된다.
//
// 아래 Pool들은 "GC 줄이기, 메모리 재사용, 성능 안정화" 목적.
// ---------------------------------------------------------------

var (
	// RecordPool:
	//   - 이벤트 1건 직렬화 결과를 담는 임시 버퍼
	//   - 초기 용량 4KB (대부분의 이벤트는 여기에 수용됨)
	//   - MaxRecordBytes 를 초과해 커진 버퍼는 caller 에서 재사용하지 않음
	RecordPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// BufferPool:
	//   - 업로드 body(gzip 인코딩 결과)를 담는 임시 버퍼
	//   - 초기 용량 256KB (일반적인 배치 사이즈에 최적화)
	//   - 1MB 초과 버퍼는 메모리 폭주 방지를 위해 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용 매우 큼)
	//   - BestSpeed 옵션: 모바일 CPU/배터리 특성상 속도 우선 전략
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 위임해
// 메모리 폭발을 예방.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// PutRecord:
//   - RecordPool에 buf를 반환할지 결정.
//   - maxCap(보통 MaxRecordBytes)보다 크면 버려서 GC로.
//   - 비정상적으로 큰 이벤트가 들어왔을 때 메모리를 계속 보유하지 않도록 설계.
func PutRecord(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		RecordPool.Put(buf)
	}
	// 그 외는 반환하지 않고 자연스럽게 GC 처리
}

// PutBuffer:
//   - 업로드 body 버퍼 반환
//   - 1MB 이하이면 풀에 재사용
//   - 초대형 배치 gzip 결과는 풀로 돌리지 않음 → 메모리 안정화 목적
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
