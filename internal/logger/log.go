// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"vigil-sdk/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// SDK 시작 시 한 번만 호출되는 로거 초기화 함수입니다.
// Config 설정에 따라 '개발자용 화면' 또는 '운영용 시스템 로그'로
// 자동으로 형태를 바꾸어 설정합니다.
//
// [주요 기능]
//
//  1. 로그 포맷 자동 전환:
//     - 개발 환경 (LogPretty=true): 알록달록한 텍스트로 출력 (가독성 위주)
//     - 운영 환경 (LogPretty=false): JSON 포맷으로 출력 (수집/분석 위주)
//
//  2. 공통 필드 자동 추가:
//     - 모든 로그에 "service", "env", "version" 정보가 자동으로 붙습니다.
//     - 호스트 앱의 로그와 섞여도 SDK 로그를 즉시 식별할 수 있습니다.
//
//  3. 로그 샘플링 (소음 절감):
//     - Debug/Info 레벨은 설정에 따라 일부만 기록하고 버립니다.
//     - Warn/Error(장애 상황)는 절대 버리지 않고 100% 기록합니다.
//
// SDK 는 호스트 앱 안에서 돌아가는 손님이므로,
// stdout 을 시끄럽게 만들지 않는 것 자체가 중요한 품질 요소입니다.
func Init(cfg config.Config) {

	// -------------------------------------------------------------------
	// 1) 로그 레벨 결정 (최소 출력 기준)
	// -------------------------------------------------------------------
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}

	zerolog.SetGlobalLevel(level)

	// -------------------------------------------------------------------
	// 2) 출력 방식 결정 (사람 vs 기계)
	// -------------------------------------------------------------------
	var w io.Writer

	if cfg.LogPretty {
		// [개발 환경]
		// 사람이 눈으로 터미널을 볼 때 편하도록 색상과 정렬을 적용합니다.
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05", // 개발 중엔 날짜 없이 시간만 보여도 충분함
		}
	} else {
		// [운영 환경]
		// 로그 수집 시스템이 자동으로 분석하기 좋은 '표준 JSON' 포맷.
		// 호스트 앱의 stdout 을 침범하지 않도록 stderr 로 흘려보냅니다.
		w = os.Stderr
	}

	// -------------------------------------------------------------------
	// 3) 기본 Logger 생성 (공통 태그 부착)
	// -------------------------------------------------------------------
	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.Service). // 어떤 서비스의 SDK 인지
		Str("env", cfg.Env).
		Str("version", cfg.Version).
		Logger()

	// -------------------------------------------------------------------
	// 4) 샘플링 설정 (로그 홍수 방지)
	// -------------------------------------------------------------------
	// 이벤트가 많은 앱에서 write 경로의 Debug 로그는 순식간에 수만 건이 됩니다.
	// 중요도가 낮은 로그는 N개 중 1개만 남기고 나머지는 버립니다.
	logger := base

	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			// Debug/Info: N개 중 1개만 기록
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},

			// Warn/Error: 샘플링하지 않음 (nil).
			// 장애나 경고는 하나도 빠짐없이 모두 기록해야 원인을 찾을 수 있습니다.
		})
	}

	// -------------------------------------------------------------------
	// 5) 전역 Logger 교체
	// -------------------------------------------------------------------
	zlog.Logger = logger

	// Go 기본 라이브러리(log.Println 등)를 쓰더라도
	// 위에서 설정한 zerolog 규칙을 따르도록 연결해줍니다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
