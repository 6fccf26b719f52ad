// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// SDKVersion
// 업로드 요청 헤더와 로그에 실리는 SDK 자체 버전.
const SDKVersion = "1.3.0"

// Config
//
// SDK 초기화 시점에 호스트 앱이 넘겨주는 모든 설정 값을 보관하는 구조체.
// Validate() 를 통과한 이후에는 변경되지 않는 불변(read-only) 설정들이다.
//
// 라이브러리이므로 서버 프로세스처럼 env fail-fast 로 죽일 수 없다.
// 잘못된 값은 Validate() 가 error 로 돌려주고, 호스트 앱이 처리한다.
type Config struct {

	// ---------------------------
	// 서비스 식별자
	// ---------------------------

	ClientToken   string // intake 인증 토큰 (필수)
	Service       string // 서비스 이름 (예: shop-app)
	Env           string // 배포 환경 (예: prod / staging)
	Version       string // 앱 버전 (예: 1.4.2)
	Build         string // 빌드 번호 (선택)
	ApplicationID string // 백엔드에 등록된 애플리케이션 UUID

	// InstanceID
	// 배치 파일명에 들어가는 프로세스 식별자.
	// 같은 디바이스에서 프로세스가 재시작되어도 파일명 충돌이 없도록
	// hostname 기반, 실패 시 랜덤 hex 를 사용한다.
	InstanceID string

	// ---------------------------
	// Intake (업로드 목적지)
	// ---------------------------

	IntakeBaseURL string        // intake base URL (예: https://intake.example.com)
	UploadTimeout time.Duration // 업로드 1회 시도당 timeout

	// ---------------------------
	// 로컬 배치 저장소
	// ---------------------------

	RootDir string // 배치 디렉토리 루트 (feature 별 하위 디렉토리 생성)

	MaxBatchBytes  int64         // 이 크기를 넘으면 batch close (rotate)
	MaxBatchAge    time.Duration // 이 나이를 넘으면 batch close (rotate)
	MaxRecordBytes int64         // 단일 이벤트 직렬화 결과 최대 크기 (초과 시 drop)
	MaxDiskBytes   int64         // feature 당 디스크 총 사용량 상한 (초과 시 oldest purge)
	BatchTTL       time.Duration // 이 나이를 넘은 batch 는 업로드하지 않고 purge

	// WriteQueueSize
	// feature 별 write 큐(채널) 버퍼 크기.
	// 큐가 가득 차면 이벤트는 drop 되고 카운터만 증가한다 (backpressure).
	WriteQueueSize int

	// ---------------------------
	// 업로드 스케줄러
	// ---------------------------

	MinUploadDelay  time.Duration // 업로드 성공이 이어질 때의 최소 tick 간격
	MaxUploadDelay  time.Duration // 실패/유휴가 이어질 때의 최대 tick 간격
	DelayChangeRate float64       // tick 간격 증감 배율. (0,1). 성공 시 곱하고 실패 시 나눈다

	// MinBatteryLevel
	// 배터리 잔량(%)이 이 값 미만이고 충전 중이 아니면 업로드를 보류한다.
	MinBatteryLevel int

	// RequireUnmetered
	// true 면 metered 네트워크(셀룰러 등)에서는 업로드를 보류한다.
	RequireUnmetered bool

	// ---------------------------
	// 샘플링
	// ---------------------------

	SessionSampleRate float64 // 0~100. 세션 단위 수집 비율

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel   string // zerolog 레벨 문자열 (debug/info/warn/error)
	LogPretty  bool   // true: 개발용 콘솔 출력 / false: JSON
	LogSampleN uint32 // Debug/Info 샘플링 N (1 이하면 샘플링 없음)
}

// Default
//
// 운영에서 검증된 기본값 세트.
// 호스트 앱은 필수 식별자(ClientToken 등)만 채우고 나머지는 그대로 써도 된다.
func Default() Config {
	return Config{
		InstanceID: fallbackInstanceID(),

		UploadTimeout: 30 * time.Second,

		MaxBatchBytes:  4 * 1024 * 1024,  // 4MB
		MaxBatchAge:    5 * time.Second,  // 5초 지나면 rotate
		MaxRecordBytes: 512 * 1024,       // 512KB
		MaxDiskBytes:   64 * 1024 * 1024, // feature 당 64MB
		BatchTTL:       18 * time.Hour,

		WriteQueueSize: 1024,

		MinUploadDelay:  time.Second,
		MaxUploadDelay:  20 * time.Second,
		DelayChangeRate: 0.90,

		MinBatteryLevel: 10,

		SessionSampleRate: 100,

		LogLevel:   "info",
		LogPretty:  false,
		LogSampleN: 0,
	}
}

// Validate
//
// 필수 값 존재 여부와 수치 범위를 검사한다.
// SDK 초기화 시 한 번만 호출되며, 실패하면 SDK 는 기동하지 않는다.
func (c Config) Validate() error {
	if c.ClientToken == "" {
		return errors.New("config: ClientToken is required")
	}
	if c.Service == "" {
		return errors.New("config: Service is required")
	}
	if c.IntakeBaseURL == "" {
		return errors.New("config: IntakeBaseURL is required")
	}
	if c.RootDir == "" {
		return errors.New("config: RootDir is required")
	}
	if c.MaxBatchBytes <= 0 || c.MaxRecordBytes <= 0 || c.MaxDiskBytes <= 0 {
		return errors.New("config: batch/record/disk size limits must be positive")
	}
	if c.MaxRecordBytes > c.MaxBatchBytes {
		return fmt.Errorf("config: MaxRecordBytes(%d) exceeds MaxBatchBytes(%d)",
			c.MaxRecordBytes, c.MaxBatchBytes)
	}
	if c.MaxBatchAge <= 0 || c.UploadTimeout <= 0 {
		return errors.New("config: MaxBatchAge and UploadTimeout must be positive")
	}
	if c.MinUploadDelay <= 0 || c.MaxUploadDelay < c.MinUploadDelay {
		return errors.New("config: upload delay bounds invalid (need 0 < min <= max)")
	}
	if c.DelayChangeRate <= 0 || c.DelayChangeRate >= 1 {
		return errors.New("config: DelayChangeRate must be in (0,1)")
	}
	if c.SessionSampleRate < 0 || c.SessionSampleRate > 100 {
		return errors.New("config: SessionSampleRate must be in [0,100]")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("config: WriteQueueSize must be positive")
	}
	return nil
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	// 랜덤 6바이트 → 12자리 hex
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
