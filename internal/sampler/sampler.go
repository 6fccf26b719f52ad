package sampler

import (
	"math/rand/v2"
)

// Sampler 는 이벤트/세션 수집 여부를 결정하는 확률 게이트이다.
//
// rate 는 0~100 의 백분율이며, Sample() 은 [0,100) 균등 난수가
// rate 미만일 때만 true 를 돌려준다.
//   - rate 0   → 항상 false
//   - rate 100 → 항상 true
//
// rate 외에는 어떤 상태도 유지하지 않으므로
// 여러 goroutine 에서 동시에 호출해도 안전하다.
type Sampler struct {
	rate float64
}

// New 는 rate 를 [0,100] 으로 clamp 해 Sampler 를 만든다.
// 잘못된 설정값이 들어와도 게이트가 영구히 닫히거나
// 과수집으로 번지지 않게 하는 보정이다.
func New(rate float64) Sampler {
	if rate < 0 {
		rate = 0
	}
	if rate > 100 {
		rate = 100
	}
	return Sampler{rate: rate}
}

// Rate 는 clamp 적용 후의 수집 비율을 반환한다.
func (s Sampler) Rate() float64 { return s.rate }

// Sample 은 이번 이벤트를 수집할지 결정한다.
func (s Sampler) Sample() bool {
	return rand.Float64()*100 < s.rate
}
