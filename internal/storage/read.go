// internal/storage/read.go
package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"vigil-sdk/internal/telemetry"

	json "github.com/goccy/go-json"
)

// ReadBatch 는 closed 배치의 레코드들을 write 순서 그대로 반환한다.
//
// 읽기 경로는 torn write 에 견뎌야 한다. 프로세스가 append 도중
// 죽으면 마지막 레코드가 반 토막으로 남을 수 있는데,
// 그런 레코드는 JSON 으로 열리지 않으므로 여기서 걸러낸다.
// 깨진 레코드는 건너뛰고 보고만 하며, 나머지 레코드는 그대로 살린다.
func (s *Store) ReadBatch(b Batch) ([][]byte, error) {
	f, err := os.Open(filepath.Join(b.Dir, eventsFile))
	if err != nil {
		return nil, fmt.Errorf("storage: open batch events: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	// 단일 레코드 상한에 맞춘 scanner 버퍼.
	sc.Buffer(make([]byte, 64*1024), int(s.cfg.MaxRecordBytes)+1)

	var records [][]byte
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			atomic.AddInt64(&s.m.RecordsSkippedCorruptTotal, 1)
			s.rep.Error(telemetry.KindCorruptRecord, s.feature,
				fmt.Sprintf("corrupt record skipped in batch %s", b.Name))
			continue
		}
		rec := make([]byte, len(line))
		copy(rec, line)
		records = append(records, rec)
	}

	// scanner 에러(잘린 마지막 라인 포함)는 배치 전체를 버릴 사유가 아니다.
	// 여기까지 살린 레코드는 그대로 쓴다.
	if err := sc.Err(); err != nil {
		atomic.AddInt64(&s.m.RecordsSkippedCorruptTotal, 1)
		s.rep.Error(telemetry.KindCorruptRecord, s.feature,
			fmt.Sprintf("batch %s read stopped early: %v", b.Name, err))
	}

	return records, nil
}
