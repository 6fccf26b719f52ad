package uploader

import (
	"sync"
	"time"
)

// Delay
//
// 업로드 주기를 상황에 따라 조절하는 적응형 지연 계산기.
//
// 업로드가 성공하면 주기를 줄여서(=더 자주) 쌓인 배치를 빨리 비우고,
// 실패하거나 보낼 것이 없으면 주기를 늘려서(=더 드물게) 배터리와
// 네트워크를 아낀다. 값은 항상 [min, max] 범위로 클램프된다.
//
// rate 는 (0,1) 구간의 배율이다. Shrink 는 cur*rate, Grow 는 cur/rate.
type Delay struct {
	mu   sync.Mutex
	cur  time.Duration
	min  time.Duration
	max  time.Duration
	rate float64
}

func NewDelay(min, max time.Duration, rate float64) *Delay {
	return &Delay{
		cur:  min,
		min:  min,
		max:  max,
		rate: rate,
	}
}

// Current
// 현재 지연값 조회. 스케줄러가 첫 타이머를 걸 때 사용한다.
func (d *Delay) Current() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cur
}

// Shrink
// 업로드 성공 시 호출. 주기를 줄이고 새 값을 돌려준다.
func (d *Delay) Shrink() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur = d.clamp(time.Duration(float64(d.cur) * d.rate))
	return d.cur
}

// Grow
// 업로드 실패 / 보낼 배치 없음 / 업로드 조건 미충족 시 호출.
// 주기를 늘리고 새 값을 돌려준다.
func (d *Delay) Grow() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur = d.clamp(time.Duration(float64(d.cur) / d.rate))
	return d.cur
}

func (d *Delay) clamp(v time.Duration) time.Duration {
	if v < d.min {
		return d.min
	}
	if v > d.max {
		return d.max
	}
	return v
}
