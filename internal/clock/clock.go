package clock

import (
	"sync/atomic"
	"time"
)

//
// clock.go
// ------------------------------------------------------------
// SDK 전체가 사용하는 시간 소스.
//
// 두 가지를 제공한다.
//
//  1. Clock 인터페이스
//     - write/upload 경로에 주입되는 시간 소스.
//     - 테스트에서 가짜 시계로 교체해 나이 기반 rotate/TTL 을
//       결정적으로 검증할 수 있게 한다.
//
//  2. Unix() 캐시
//     - 배치 파일명 prefix 에 쓰는 epoch seconds.
//     - 이벤트가 몰릴 때 매번 time.Now() 시스템 콜을 하지 않도록
//       1초 ticker 로 캐싱한다. 파일명은 초 단위 정밀도면 충분하다.
// ------------------------------------------------------------

// Clock 은 현재 시각을 돌려주는 최소 인터페이스.
type Clock interface {
	Now() time.Time
}

// systemClock 은 time.Now 를 그대로 쓰는 기본 구현.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System 은 실제 벽시계 기반 Clock 을 반환한다.
func System() Clock { return systemClock{} }

// ------------------------------------------------------------
// epoch seconds 캐시 (파일명 전용)
// ------------------------------------------------------------

var unixSec atomic.Int64

func init() {
	// 최초 seed
	unixSec.Store(time.Now().Unix())

	// 1초마다 갱신
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for range ticker.C {
			unixSec.Store(time.Now().Unix())
		}
	}()
}

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}
