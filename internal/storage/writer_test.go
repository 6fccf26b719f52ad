package storage

import (
	"path/filepath"
	"testing"

	"vigil-sdk/internal/clock"
	"vigil-sdk/internal/config"
	"vigil-sdk/internal/metrics"
	"vigil-sdk/internal/sdkctx"
	"vigil-sdk/internal/telemetry"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEvent struct {
	Message string `json:"message"`
	Seq     int    `json:"seq"`
}

func newTestWriter(t *testing.T, cfg config.Config, consent sdkctx.Consent, sampled bool) (*Writer, *Store, *metrics.Metrics, *sdkctx.Provider) {
	t.Helper()
	m := metrics.New()
	rep := telemetry.NewReporter(nil, clock.System())

	s, err := NewStore("logs", cfg, m, rep)
	require.NoError(t, err)

	p := sdkctx.NewProvider(clock.System(), sdkctx.Context{
		Service:   "app",
		SessionID: "S1",
		Consent:   consent,
	})

	w := NewWriter(s, p, rep, m, cfg.WriteQueueSize, cfg.MaxRecordBytes, sampled)
	return w, s, m, p
}

func TestWriterPersistsEventsWithContextEnvelope(t *testing.T) {
	cfg := testConfig(t)
	w, s, m, _ := newTestWriter(t, cfg, sdkctx.ConsentGranted, true)
	w.Start()
	defer w.Stop()

	for i := 0; i < 3; i++ {
		w.Write(logEvent{Message: "hello", Seq: i})
	}
	w.Flush()

	b, ok := s.OldestEligible()
	require.True(t, ok)

	recs, err := s.ReadBatch(b)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(3), m.EventsWrittenTotal)

	for i, r := range recs {
		var env Envelope
		require.NoError(t, json.Unmarshal(r, &env))
		assert.Equal(t, "app", env.Service)
		assert.Equal(t, "S1", env.SessionID)
		assert.Greater(t, env.At, int64(0))

		var ev logEvent
		require.NoError(t, json.Unmarshal(env.Data, &ev))
		assert.Equal(t, i, ev.Seq, "write 순서가 보존되어야 한다")
	}
}

func TestWriterDropsWhenConsentDenied(t *testing.T) {
	cfg := testConfig(t)
	w, s, m, _ := newTestWriter(t, cfg, sdkctx.ConsentDenied, true)
	w.Start()
	defer w.Stop()

	w.Write(logEvent{Message: "secret"})
	w.Flush()

	assert.Equal(t, int64(1), m.EventsDroppedConsentTotal)
	assert.Equal(t, int64(0), m.EventsWrittenTotal)
	_, ok := s.OldestEligible()
	assert.False(t, ok)
}

func TestWriterRoutesPendingConsentToPendingArea(t *testing.T) {
	cfg := testConfig(t)
	w, s, _, _ := newTestWriter(t, cfg, sdkctx.ConsentPending, true)
	w.Start()
	defer w.Stop()

	w.Write(logEvent{Message: "early"})
	w.Flush()

	// granted 영역은 비어 있고(업로드 불가) pending 영역에만 쌓인다.
	_, ok := s.OldestEligible()
	assert.False(t, ok)
	assert.NotEmpty(t, listBatches(t, s.pendingDir))
}

func TestWriterAttachesConsentAtWriteTime(t *testing.T) {
	cfg := testConfig(t)
	w, s, _, p := newTestWriter(t, cfg, sdkctx.ConsentPending, true)
	w.Start()
	defer w.Stop()

	w.Write(logEvent{Seq: 0})
	w.Flush()

	// consent 전환은 다음 이벤트부터 적용된다.
	p.Update(func(c *sdkctx.Context) { c.Consent = sdkctx.ConsentGranted })
	require.NoError(t, s.MigratePending())

	w.Write(logEvent{Seq: 1})
	w.Flush()

	var got []int
	for _, name := range listBatches(t, s.grantedDir) {
		recs, err := s.ReadBatch(Batch{Name: name, Dir: filepath.Join(s.grantedDir, name)})
		require.NoError(t, err)
		for _, r := range recs {
			var env Envelope
			require.NoError(t, json.Unmarshal(r, &env))
			var ev logEvent
			require.NoError(t, json.Unmarshal(env.Data, &ev))
			got = append(got, ev.Seq)
		}
	}
	assert.Equal(t, []int{0, 1}, got, "pending 시절 이벤트가 먼저 온다")
}

func TestWriterDropsUnserializableEvent(t *testing.T) {
	cfg := testConfig(t)
	w, _, m, _ := newTestWriter(t, cfg, sdkctx.ConsentGranted, true)
	w.Start()
	defer w.Stop()

	w.Write(make(chan int)) // JSON 으로 인코딩 불가
	w.Write(logEvent{Message: "fine"})
	w.Flush()

	assert.Equal(t, int64(1), m.EventsDroppedSerializeTotal)
	assert.Equal(t, int64(1), m.EventsWrittenTotal, "뒤따르는 정상 이벤트는 영향을 받지 않는다")
}

func TestWriterDropsOversizedEvent(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRecordBytes = 128
	w, _, m, _ := newTestWriter(t, cfg, sdkctx.ConsentGranted, true)
	w.Start()
	defer w.Stop()

	w.Write(logEvent{Message: string(make([]byte, 4096))})
	w.Flush()

	assert.Equal(t, int64(1), m.EventsDroppedTooLargeTotal)
	assert.Equal(t, int64(0), m.EventsWrittenTotal)
}

func TestWriterQueueFullDropsFailFast(t *testing.T) {
	cfg := testConfig(t)
	cfg.WriteQueueSize = 2
	w, _, m, _ := newTestWriter(t, cfg, sdkctx.ConsentGranted, true)
	// Start 전이므로 큐가 소비되지 않는다 → 3건째는 drop.
	w.Write(logEvent{Seq: 0})
	w.Write(logEvent{Seq: 1})
	w.Write(logEvent{Seq: 2})

	assert.Equal(t, int64(2), m.EventsAcceptedTotal)
	assert.Equal(t, int64(1), m.EventsDroppedQueueFullTotal)

	w.Start()
	w.Flush()
	w.Stop()
	assert.Equal(t, int64(2), m.EventsWrittenTotal)
}

func TestUnsampledSessionWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	w, s, m, _ := newTestWriter(t, cfg, sdkctx.ConsentGranted, false)
	w.Start()
	defer w.Stop()

	for i := 0; i < 5; i++ {
		w.Write(logEvent{Seq: i})
	}
	w.Flush()

	assert.Equal(t, int64(0), m.EventsAcceptedTotal)
	_, ok := s.OldestEligible()
	assert.False(t, ok)
}
