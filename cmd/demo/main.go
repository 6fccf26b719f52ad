package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	vigil "vigil-sdk"
)

// ====================================================================
// demo 호스트 앱
//
// SDK 를 실제 모바일 앱처럼 구동해 보는 시뮬레이션 바이너리.
//   - env 로 intake 주소/토큰을 받고
//   - "logs" feature 를 등록한 뒤
//   - ticker 로 합성 로그 이벤트를 흘려보내고
//   - SIGTERM/SIGINT 에 graceful 하게 내려간다.
//
// SDK 라이브러리 자체는 절대 프로세스를 죽이지 않지만,
// 데모 바이너리는 설정이 틀리면 fail-fast 로 죽는 것이 맞다.
// ====================================================================

func main() {
	cfg := vigil.DefaultConfig()
	cfg.ClientToken = must("VIGIL_CLIENT_TOKEN")
	cfg.Service = must("VIGIL_SERVICE")
	cfg.Env = getenv("VIGIL_ENV", "dev")
	cfg.IntakeBaseURL = must("VIGIL_INTAKE_URL")
	cfg.RootDir = getenv("VIGIL_ROOT_DIR", "/tmp/vigil-demo")
	cfg.LogLevel = getenv("VIGIL_LOG_LEVEL", "debug")
	cfg.LogPretty = getenv("VIGIL_LOG_PRETTY", "1") == "1"

	if v := os.Getenv("VIGIL_SAMPLE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Fatal().Str("key", "VIGIL_SAMPLE_RATE").Msg("invalid sample rate")
		}
		cfg.SessionSampleRate = rate
	}

	sdk, err := vigil.Start(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("sdk start failed")
	}

	if err := sdk.RegisterFeature("logs", vigil.FeatureConfig{}); err != nil {
		log.Fatal().Err(err).Msg("feature registration failed")
	}

	// 데모에서는 플랫폼 신호를 고정값으로 흉내 낸다.
	sdk.SetDevice(vigil.Device{Brand: "demo", Model: "cli", OSName: "linux"})
	sdk.SetNetworkStatus(true, false)
	sdk.SetBatteryStatus(80, true)
	sdk.SetTrackingConsent(vigil.ConsentGranted)

	w, _ := sdk.Scope("logs")

	// ====================================================================
	// 이벤트 생산 루프
	//
	// 실제 앱이라면 로그/에러/뷰 전환이 여기로 들어온다.
	// 데모는 1초에 하나씩 합성 로그를 쓴다.
	// ====================================================================
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		seq := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				seq++
				w.Write(map[string]any{
					"message": "demo heartbeat",
					"seq":     seq,
				})
			}
		}
	}()

	// ====================================================================
	// Graceful Shutdown
	//
	// 모바일 앱의 background 전환에 해당한다.
	// 생산 루프를 먼저 멈추고, 큐를 디스크까지 내린 다음 SDK 를 내린다.
	// 업로드 못 한 배치는 디스크에 남아 다음 실행에서 재개된다.
	// ====================================================================
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	close(stop)
	sdk.Flush()
	sdk.Stop()

	log.Info().Msg("final counters\n" + sdk.Metrics())
}

// getenv / must
// 데모 전용 env 헬퍼. 라이브러리 쪽에는 이런 fail-fast 가 없다.

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatal().Str("key", key).Msg("required env missing")
	}
	return v
}
