// internal/storage/store.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vigil-sdk/internal/clock"
	"vigil-sdk/internal/config"
	"vigil-sdk/internal/metrics"
	"vigil-sdk/internal/telemetry"

	zlog "github.com/rs/zerolog/log"
)

// 영역(area) 이름. consent 상태에 따라 레코드가 들어가는 위치가 갈린다.
//   - granted: 업로드 스케줄러가 읽어가는 영역
//   - pending: 동의 전 격리 영역. granted 전환 시 이름 그대로 이관되고
//     denied 전환 시 통째로 purge 된다.
const (
	AreaGranted = "granted"
	AreaPending = "pending"
)

// Store 는 feature 하나의 durable 배치 저장소이다.
//
// 배치 생애주기는 디스크 상태 그 자체로 표현된다.
//
//	<name>.batch.open  : writable. feature 당 동시에 최대 1개.
//	<name>.batch       : closed. 업로드 대상. 이후 불변.
//	(없음)             : 업로드 성공 또는 purge 로 삭제됨.
//
// 디렉토리가 디스크에 존재한다는 사실이 곧 durability 보장이며,
// 별도의 WAL 은 없다. 프로세스가 언제 죽어도 다음 기동의
// recovery scan 이 .open 잔해를 closed 로 승격시킨다.
//
// 쓰기 레코드가 중간에 끊긴 경우(torn write)는 쓰기 시점이 아니라
// 읽기 시점에 감지되어 해당 레코드만 건너뛴다. (read.go 참고)
type Store struct {
	feature string
	cfg     config.Config
	m       *metrics.Metrics
	rep     *telemetry.Reporter

	grantedDir string
	pendingDir string

	mu        sync.Mutex
	open      *openBatch
	diskBytes int64 // granted+pending 영역 총 바이트 (mu 로 보호)
}

// openBatch 는 현재 writable 배치의 in-memory 핸들이다.
type openBatch struct {
	name        string // 디렉토리 이름 (.batch.open 포함)
	dir         string // 전체 경로
	area        string
	f           *os.File
	bytes       int64
	count       int64
	createdUnix int64
}

// Batch 는 업로드 스케줄러에 넘겨주는 closed 배치 참조이다.
type Batch struct {
	Name string
	Dir  string
}

// NewStore 는 feature 영역 디렉토리를 준비하고 recovery scan 을 수행한다.
//
// recovery scan:
//   - 크래시로 남은 *.batch.open 을 closed 로 rename (업로드 대상으로 승격)
//   - BatchTTL 초과 배치 purge
//   - 디스크 사용량 gauge 복원
func NewStore(feature string, cfg config.Config, m *metrics.Metrics, rep *telemetry.Reporter) (*Store, error) {
	s := &Store{
		feature:    feature,
		cfg:        cfg,
		m:          m,
		rep:        rep,
		grantedDir: filepath.Join(cfg.RootDir, feature, AreaGranted),
		pendingDir: filepath.Join(cfg.RootDir, feature, AreaPending),
	}

	for _, dir := range []string{s.grantedDir, s.pendingDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create area dir: %w", err)
		}
	}

	s.recover()
	return s, nil
}

func (s *Store) Feature() string { return s.feature }

// DiskBytes 는 이 feature 가 점유 중인 총 바이트 수를 반환한다.
func (s *Store) DiskBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diskBytes
}

// recover 는 기동 시 디스크 상태를 in-memory 상태와 일치시킨다.
func (s *Store) recover() {
	nowSec := clock.Unix()

	for _, areaDir := range []string{s.grantedDir, s.pendingDir} {
		entries, err := os.ReadDir(areaDir)
		if err != nil {
			continue
		}

		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			full := filepath.Join(areaDir, name)

			// 크래시 잔해: .open 배치는 재개하지 않고 closed 로 승격한다.
			// 한 파일에는 하나의 writer incarnation 만 append 한다.
			if isOpenBatch(name) {
				closed := filepath.Join(areaDir, closedName(name))
				if err := os.Rename(full, closed); err != nil {
					zlog.Warn().Err(err).Str("batch", name).Msg("recovery rename failed")
					continue
				}
				name = closedName(name)
				full = closed
				atomic.AddInt64(&s.m.BatchesRecoveredTotal, 1)
			}

			if !isClosedBatch(name) {
				continue
			}

			// TTL 초과 → 업로드하지 않고 purge.
			// 아직 gauge 에 집계되기 전이므로 삭제분을 차감하지 않는다.
			if s.expired(name, nowSec) {
				removeBatchDir(full)
				atomic.AddInt64(&s.m.BatchesPurgedExpiredTotal, 1)
				s.rep.Error(telemetry.KindStoragePurge, s.feature,
					fmt.Sprintf("expired batch purged at startup: %s", name))
				continue
			}

			size := dirSize(full)
			s.diskBytes += size
			atomic.AddInt64(&s.m.StorageBytesCurrent, size)
		}
	}
}

// expired 는 이름 prefix 의 생성 시각 기준으로 BatchTTL 초과 여부를 판단한다.
// 이름에서 시각을 읽지 못하면 TTL 판단은 skip 한다.
func (s *Store) expired(name string, nowSec int64) bool {
	if s.cfg.BatchTTL <= 0 {
		return false
	}
	sec, ok := unixFromBatchName(name)
	if !ok {
		return false
	}
	return time.Duration(nowSec-sec)*time.Second > s.cfg.BatchTTL
}

// ------------------------------------------------------------
// 쓰기 경로
// ------------------------------------------------------------

// WriteRecord 는 직렬화된 레코드 1건을 해당 area 의 writable 배치에 append 한다.
//
// rotate 조건 (먼저 걸리는 쪽):
//   - area 전환 (consent 가 바뀐 경우)
//   - 크기: 이번 레코드를 더하면 MaxBatchBytes 초과
//   - 나이: 배치 생성 후 MaxBatchAge 경과
//
// 새 배치를 열기 전에 용량 정책(ensureCapacity)을 먼저 적용한다.
func (s *Store) WriteRecord(rec []byte, area string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := int64(len(rec)) + 1 // '\n' 포함

	if s.open != nil {
		rotate := s.open.area != area ||
			(s.open.count > 0 && s.open.bytes+need > s.cfg.MaxBatchBytes) ||
			time.Duration(clock.Unix()-s.open.createdUnix)*time.Second > s.cfg.MaxBatchAge
		if rotate {
			s.closeOpenLocked()
		}
	}

	if s.open == nil {
		if !s.ensureCapacityLocked(need) {
			atomic.AddInt64(&s.m.EventsDroppedStorageFullTotal, 1)
			return fmt.Errorf("storage: feature %q disk cap exhausted", s.feature)
		}
		if err := s.openBatchLocked(area); err != nil {
			return err
		}
	}

	line := make([]byte, 0, len(rec)+1)
	line = append(line, rec...)
	line = append(line, '\n')
	if _, err := s.open.f.Write(line); err != nil {
		// append 실패한 핸들은 더 쓰지 않는다. 다음 write 가 새 배치를 연다.
		s.closeOpenLocked()
		return fmt.Errorf("storage: append: %w", err)
	}

	s.open.bytes += need
	s.open.count++
	s.diskBytes += need
	atomic.AddInt64(&s.m.EventsWrittenTotal, 1)
	atomic.AddInt64(&s.m.StorageBytesCurrent, need)
	return nil
}

// openBatchLocked 는 새 writable 배치 디렉토리를 만든다.
func (s *Store) openBatchLocked(area string) error {
	areaDir := s.grantedDir
	consent := AreaGranted
	if area == AreaPending {
		areaDir = s.pendingDir
		consent = AreaPending
	}

	name := newOpenBatchName(s.cfg.InstanceID)
	dir := filepath.Join(areaDir, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create batch dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, eventsFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("storage: open events file: %w", err)
	}

	created := clock.Unix()
	if err := writeMeta(dir, Meta{CreatedAt: created, Consent: consent}); err != nil {
		zlog.Warn().Err(err).Str("batch", name).Msg("meta write failed")
	}

	s.open = &openBatch{
		name:        name,
		dir:         dir,
		area:        area,
		f:           f,
		createdUnix: created,
	}
	atomic.AddInt64(&s.m.BatchesCreatedTotal, 1)
	return nil
}

// closeOpenLocked 는 writable 배치를 closed 상태로 전이시킨다.
// rename 으로 ".open" 을 떼는 것이 곧 상태 전이이며,
// 이후 이 배치는 불변이고 업로드 대상이 된다.
func (s *Store) closeOpenLocked() {
	ob := s.open
	if ob == nil {
		return
	}
	s.open = nil

	_ = ob.f.Close()

	// 이벤트가 0건이면 빈 배치를 남길 이유가 없다.
	if ob.count == 0 {
		_ = os.RemoveAll(ob.dir)
		return
	}

	if err := writeMeta(ob.dir, Meta{
		CreatedAt:  ob.createdUnix,
		Consent:    ob.area,
		EventCount: ob.count,
	}); err != nil {
		zlog.Warn().Err(err).Str("batch", ob.name).Msg("meta rewrite failed")
	}

	closedDir := filepath.Join(filepath.Dir(ob.dir), closedName(ob.name))
	if err := os.Rename(ob.dir, closedDir); err != nil {
		zlog.Error().Err(err).Str("batch", ob.name).Msg("batch close rename failed")
		return
	}
	atomic.AddInt64(&s.m.BatchesClosedTotal, 1)
}

// Flush 는 현재 writable 배치를 즉시 close 한다.
// 앱 백그라운드 전환 등 "지금 가진 것을 업로드 가능 상태로" 만들 때 호출.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeOpenLocked()
}

// Close 는 teardown 경로. writable 배치를 close 해 두어
// 다음 기동 시 바로 업로드 대상이 되게 한다.
func (s *Store) Close() {
	s.Flush()
}

// ------------------------------------------------------------
// 용량 정책
// ------------------------------------------------------------

// ensureCapacityLocked 는 MaxDiskBytes 를 초과하지 않도록
// 가장 오래된 closed 배치부터 삭제한다 (양쪽 area 모두 대상).
// 삭제할 것이 더 이상 없으면 false 를 반환한다.
func (s *Store) ensureCapacityLocked(incoming int64) bool {
	max := s.cfg.MaxDiskBytes
	if max <= 0 {
		return true
	}

	for {
		if s.diskBytes+incoming <= max {
			return true
		}

		oldest, ok := s.oldestClosedLocked(true)
		if !ok {
			return false
		}

		freed := removeBatchDir(oldest.Dir)
		s.diskBytes -= freed
		atomic.AddInt64(&s.m.BatchesPurgedCapacityTotal, 1)
		atomic.AddInt64(&s.m.StorageBytesCurrent, -freed)
		s.rep.Error(telemetry.KindStoragePurge, s.feature,
			fmt.Sprintf("disk cap reached, oldest batch evicted: %s", oldest.Name))

		zlog.Warn().
			Str("feature", s.feature).
			Str("batch", oldest.Name).
			Msg("storage capacity eviction")
	}
}

// oldestClosedLocked 는 closed 배치 중 이름 기준(=시간 기준) 가장 오래된
// 것을 찾는다. includePending=false 면 granted 영역만 본다.
//
// 주의: 파일 시스템은 엔트리 목록을 정렬해주지 않으므로 반드시 정렬한다.
// 이름 규칙상 문자열 정렬 = 시간 정렬이다.
func (s *Store) oldestClosedLocked(includePending bool) (Batch, bool) {
	dirs := []string{s.grantedDir}
	if includePending {
		dirs = append(dirs, s.pendingDir)
	}

	var all []Batch
	for _, areaDir := range dirs {
		entries, err := os.ReadDir(areaDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && isClosedBatch(e.Name()) {
				all = append(all, Batch{Name: e.Name(), Dir: filepath.Join(areaDir, e.Name())})
			}
		}
	}

	if len(all) == 0 {
		return Batch{}, false
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all[0], true
}

// ------------------------------------------------------------
// consent 전환
// ------------------------------------------------------------

// MigratePending 은 consent=granted 전환 시 pending 영역의 배치를
// granted 영역으로 이관한다. 이름이 보존되므로(= 정렬 키 보존)
// 원래 write 순서가 그대로 유지되고, 이관된 배치들은
// 전환 이후에 쓰인 어떤 배치보다도 먼저 업로드된다.
func (s *Store) MigratePending() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// pending 에 열린 writable 배치가 있으면 먼저 close 한다.
	if s.open != nil && s.open.area == AreaPending {
		s.closeOpenLocked()
	}

	entries, err := os.ReadDir(s.pendingDir)
	if err != nil {
		return err
	}

	var firstErr error
	for _, e := range entries {
		if !e.IsDir() || !isClosedBatch(e.Name()) {
			continue
		}
		src := filepath.Join(s.pendingDir, e.Name())
		dst := filepath.Join(s.grantedDir, e.Name())
		if err := os.Rename(src, dst); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PurgePending 은 consent=denied 전환 시 pending 영역을 통째로 비운다.
func (s *Store) PurgePending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil && s.open.area == AreaPending {
		ob := s.open
		s.open = nil
		_ = ob.f.Close()
		freed := removeBatchDir(ob.dir)
		s.diskBytes -= freed
		atomic.AddInt64(&s.m.BatchesPurgedConsentTotal, 1)
		atomic.AddInt64(&s.m.StorageBytesCurrent, -freed)
	}

	entries, err := os.ReadDir(s.pendingDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		freed := removeBatchDir(filepath.Join(s.pendingDir, e.Name()))
		s.diskBytes -= freed
		atomic.AddInt64(&s.m.BatchesPurgedConsentTotal, 1)
		atomic.AddInt64(&s.m.StorageBytesCurrent, -freed)
	}
}

// ------------------------------------------------------------
// 업로드 경로
// ------------------------------------------------------------

// OldestEligible 은 granted 영역에서 업로드할 가장 오래된 closed 배치를
// 반환한다. 스캔 중 TTL 초과 배치는 그 자리에서 purge 하고 다음으로 넘어간다.
func (s *Store) OldestEligible() (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowSec := clock.Unix()

	for {
		b, ok := s.oldestClosedLocked(false)
		if !ok {
			return Batch{}, false
		}

		if s.expired(b.Name, nowSec) {
			freed := removeBatchDir(b.Dir)
			s.diskBytes -= freed
			atomic.AddInt64(&s.m.BatchesPurgedExpiredTotal, 1)
			atomic.AddInt64(&s.m.StorageBytesCurrent, -freed)
			s.rep.Error(telemetry.KindStoragePurge, s.feature,
				fmt.Sprintf("expired batch purged: %s", b.Name))
			continue
		}

		return b, true
	}
}

// DeleteBatch 는 closed 배치를 디스크에서 제거한다.
// 업로드 성공 후 삭제와 non-retryable purge 가 공용으로 사용하며,
// 어떤 사유였는지의 카운터는 호출자(스케줄러)가 올린다.
func (s *Store) DeleteBatch(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	freed := removeBatchDir(b.Dir)
	s.diskBytes -= freed
	atomic.AddInt64(&s.m.StorageBytesCurrent, -freed)
}

// ------------------------------------------------------------
// 파일 유틸
// ------------------------------------------------------------

// removeBatchDir 는 배치 디렉토리를 삭제하고 회수한 바이트 수를 반환한다.
func removeBatchDir(dir string) int64 {
	size := dirSize(dir)
	_ = os.RemoveAll(dir)
	return size
}

// dirSize 는 배치가 점유한 바이트 수.
// 용량 정책의 회계 단위를 쓰기 경로(레코드 append)와 일치시키기 위해
// 이벤트 파일만 센다. meta sidecar 는 배치당 수십 바이트라 무시한다.
func dirSize(dir string) int64 {
	info, err := os.Stat(filepath.Join(dir, eventsFile))
	if err != nil {
		return 0
	}
	return info.Size()
}
