// internal/storage/meta.go
package storage

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// Meta 는 배치 디렉토리 안의 sidecar 파일(meta.json) 내용이다.
//
// 배치 생성 시 1회 기록되고 close 시 최종 count 로 다시 기록된다.
// 크래시로 close 를 못 했다면 count=0 인 생성 시점 meta 가 남는데,
// 읽기 경로는 어차피 라인 수를 직접 세므로 문제되지 않는다.
type Meta struct {
	CreatedAt  int64  `json:"created_at"` // unix seconds (단말 시계 기준)
	Consent    string `json:"consent"`    // 생성 시점의 consent 상태
	EventCount int64  `json:"event_count"`
}

func writeMeta(batchDir string, m Meta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(batchDir, metaFile), raw, 0o600)
}

// readMeta 는 sidecar 를 읽는다. 없거나 깨져 있으면 zero Meta 와 false.
func readMeta(batchDir string) (Meta, bool) {
	raw, err := os.ReadFile(filepath.Join(batchDir, metaFile))
	if err != nil {
		return Meta{}, false
	}
	var m Meta
	if json.Unmarshal(raw, &m) != nil {
		return Meta{}, false
	}
	return m, true
}
