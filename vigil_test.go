package vigil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, intakeURL string) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ClientToken = "test-token"
	cfg.Service = "app"
	cfg.Env = "test"
	cfg.RootDir = t.TempDir()
	cfg.IntakeBaseURL = intakeURL
	cfg.MinUploadDelay = 10 * time.Millisecond
	cfg.MaxUploadDelay = 50 * time.Millisecond
	return cfg
}

func TestStartRejectsSecondInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sdk, err := Start(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer sdk.Stop()

	_, err = Start(testConfig(t, srv.URL))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestRestartAfterStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sdk, err := Start(testConfig(t, srv.URL))
	require.NoError(t, err)
	sdk.Stop()

	sdk2, err := Start(testConfig(t, srv.URL))
	require.NoError(t, err)
	sdk2.Stop()
}

func TestStartValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	// ClientToken 없음: 기동 자체가 거부되어야 한다.
	_, err := Start(cfg)
	require.Error(t, err)

	// 실패한 Start 는 활성 인스턴스를 남기지 않는다.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sdk, err := Start(testConfig(t, srv.URL))
	require.NoError(t, err)
	sdk.Stop()
}

func TestFacadeWritePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sdk, err := Start(testConfig(t, srv.URL))
	require.NoError(t, err)
	defer sdk.Stop()

	require.NoError(t, sdk.RegisterFeature("logs", FeatureConfig{}))
	sdk.SetUser(User{ID: "u1"})
	sdk.SetTrackingConsent(ConsentGranted)

	w, ok := sdk.Scope("logs")
	require.True(t, ok)
	w.Write(map[string]string{"message": "hello"})
	sdk.Flush()

	_, ok = sdk.Scope("unknown")
	assert.False(t, ok)
	assert.Contains(t, sdk.Metrics(), "events_accepted_total=1")
}
