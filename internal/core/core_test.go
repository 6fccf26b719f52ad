package core

import (
	"bufio"
	stdgzip "compress/gzip"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil-sdk/internal/bus"
	"vigil-sdk/internal/config"
	"vigil-sdk/internal/sdkctx"
	"vigil-sdk/internal/storage"
)

func testConfig(t *testing.T, intakeURL string) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.ClientToken = "test-token"
	cfg.Service = "app"
	cfg.Env = "test"
	cfg.ApplicationID = "app-1"
	cfg.RootDir = t.TempDir()
	cfg.InstanceID = "test"
	cfg.IntakeBaseURL = intakeURL
	cfg.UploadTimeout = 2 * time.Second
	cfg.MinUploadDelay = 10 * time.Millisecond
	cfg.MaxUploadDelay = 50 * time.Millisecond
	cfg.DelayChangeRate = 0.5
	return cfg
}

// intakeRecorder 는 수신한 NDJSON 라인을 순서대로 모으는 가짜 intake.
type intakeRecorder struct {
	mu    sync.Mutex
	lines []string
	calls atomic.Int64
	// respond 가 nil 이면 항상 202.
	respond func(call int64) int
}

func (rec *intakeRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		call := rec.calls.Add(1)

		status := http.StatusAccepted
		if rec.respond != nil {
			status = rec.respond(call)
		}
		if status >= 300 {
			w.WriteHeader(status)
			return
		}

		gz, err := stdgzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer gz.Close()

		sc := bufio.NewScanner(gz)
		rec.mu.Lock()
		for sc.Scan() {
			rec.lines = append(rec.lines, sc.Text())
		}
		rec.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (rec *intakeRecorder) snapshot() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]string, len(rec.lines))
	copy(out, rec.lines)
	return out
}

// seqOf 는 업로드된 envelope 라인에서 payload 의 seq 를 꺼낸다.
func seqOf(t *testing.T, line string) int {
	t.Helper()

	var env storage.Envelope
	require.NoError(t, json.Unmarshal([]byte(line), &env))
	var payload struct {
		Seq int `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload.Seq
}

func TestRegisterDuplicateFeatureFails(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, c.Register("logs", FeatureConfig{}))
	assert.ErrorIs(t, c.Register("logs", FeatureConfig{}), ErrFeatureAlreadyRegistered)
}

func TestScopeUnknownFeature(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer c.Stop()

	_, ok := c.Scope("logs")
	assert.False(t, ok)
}

func TestEventsReachIntakeInOrderAfterConsent(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, c.Register("logs", FeatureConfig{}))
	c.SetConsent(sdkctx.ConsentGranted)

	w, ok := c.Scope("logs")
	require.True(t, ok)
	for i := 1; i <= 3; i++ {
		w.Write(map[string]int{"seq": i})
	}
	w.Flush()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 3
	}, 3*time.Second, 10*time.Millisecond)

	lines := rec.snapshot()
	for i, line := range lines {
		assert.Equal(t, i+1, seqOf(t, line))

		var env storage.Envelope
		require.NoError(t, json.Unmarshal([]byte(line), &env))
		assert.Equal(t, "app", env.Service)
		assert.NotEmpty(t, env.SessionID)
		assert.Greater(t, env.At, int64(0))
	}

	// 업로드 성공 후 배치는 디스크에서 사라진다.
	require.Eventually(t, func() bool {
		_, left := c.features["logs"].store.OldestEligible()
		return !left
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRetryableFailureRetriesSameBatchOnce(t *testing.T) {
	rec := &intakeRecorder{
		respond: func(call int64) int {
			if call == 1 {
				return http.StatusServiceUnavailable
			}
			return http.StatusOK
		},
	}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, c.Register("logs", FeatureConfig{}))
	c.SetConsent(sdkctx.ConsentGranted)

	w, _ := c.Scope("logs")
	w.Write(map[string]int{"seq": 1})
	w.Flush()

	// 1차(503) 실패 후에도 배치는 살아남아 2차에 전송된다.
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, rec.calls.Load(), int64(2))
	assert.Equal(t, 1, seqOf(t, rec.snapshot()[0]))
}

func TestConsentGrantedReleasesPendingEvents(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, c.Register("logs", FeatureConfig{}))

	// consent=pending 동안 쓰인 이벤트는 업로드되지 않고 격리 저장된다.
	w, _ := c.Scope("logs")
	w.Write(map[string]int{"seq": 1})
	w.Write(map[string]int{"seq": 2})
	w.Flush()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	// granted 전환 시 격리분이 순서 그대로 승격되어 업로드된다.
	c.SetConsent(sdkctx.ConsentGranted)
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	lines := rec.snapshot()
	assert.Equal(t, 1, seqOf(t, lines[0]))
	assert.Equal(t, 2, seqOf(t, lines[1]))
}

func TestConsentDeniedDropsPendingAndNewEvents(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, c.Register("logs", FeatureConfig{}))

	w, _ := c.Scope("logs")
	w.Write(map[string]int{"seq": 1})
	w.Flush()

	c.SetConsent(sdkctx.ConsentDenied)
	w.Write(map[string]int{"seq": 2})
	w.Flush()

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestBusCorrelatesSessionIntoLogEvents(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, c.Register("logs", FeatureConfig{}))
	c.SetConsent(sdkctx.ConsentGranted)

	// logs feature 가 RUM 컨텍스트 메시지를 구독해서,
	// 그 안의 session_id 를 붙인 로그 이벤트를 기록한다.
	w, _ := c.Scope("logs")
	err = c.Bus().Register("logs", bus.ReceiverFunc(func(msg bus.Message) bus.Result {
		if msg.Label != sdkctx.BaggageRUM {
			return bus.NotMine
		}
		var sid string
		if err := msg.Decode(sdkctx.BaggageSessionID, &sid); err != nil {
			return bus.DecodeError
		}
		w.Write(map[string]string{"message": "view loaded", "rum_session_id": sid})
		return bus.Consumed
	}))
	require.NoError(t, err)

	msg := bus.NewMessage(sdkctx.BaggageRUM)
	require.NoError(t, msg.Set(sdkctx.BaggageSessionID, "rum-session-42"))
	c.SendMessage(msg)
	w.Flush()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	var env storage.Envelope
	require.NoError(t, json.Unmarshal([]byte(rec.snapshot()[0]), &env))
	var payload struct {
		RUMSessionID string `json:"rum_session_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "rum-session-42", payload.RUMSessionID)
}

func TestUnsampledSessionStillUploadsLeftoverBatches(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	cfg := testConfig(t, srv.URL)

	// 1번째 세션: 이벤트를 디스크까지만 내리고 종료한다.
	// (intake 를 막아서 업로드가 일어나지 않게 한다.)
	first := cfg
	first.IntakeBaseURL = "http://127.0.0.1:1"
	c1, err := New(first)
	require.NoError(t, err)
	require.NoError(t, c1.Register("logs", FeatureConfig{}))
	c1.SetConsent(sdkctx.ConsentGranted)
	w, _ := c1.Scope("logs")
	w.Write(map[string]int{"seq": 1})
	w.Flush()
	c1.Stop()

	// 2번째 세션: 샘플링 제외(rate=0)라 신규 이벤트는 버려지지만,
	// 이전 세션이 남긴 배치는 업로드되어야 한다.
	second := cfg
	second.SessionSampleRate = 0
	c2, err := New(second)
	require.NoError(t, err)
	defer c2.Stop()
	require.NoError(t, c2.Register("logs", FeatureConfig{}))
	c2.SetConsent(sdkctx.ConsentGranted)

	w2, _ := c2.Scope("logs")
	w2.Write(map[string]int{"seq": 2})
	w2.Flush()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, seqOf(t, rec.snapshot()[0]))
}

func TestStopIsIdempotent(t *testing.T) {
	rec := &intakeRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	c, err := New(testConfig(t, srv.URL))
	require.NoError(t, err)
	require.NoError(t, c.Register("logs", FeatureConfig{}))

	c.Stop()
	c.Stop()

	assert.Error(t, c.Register("metrics", FeatureConfig{}))
}
