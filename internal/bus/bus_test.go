package bus

import (
	"testing"

	"vigil-sdk/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDuplicateFeatureFails(t *testing.T) {
	b := New(metrics.New())

	require.NoError(t, b.Register("logs", ReceiverFunc(func(Message) Result { return NotMine })))
	err := b.Register("logs", ReceiverFunc(func(Message) Result { return NotMine }))
	assert.ErrorIs(t, err, ErrReceiverAlreadyRegistered)

	// Deregister 후에는 다시 등록 가능
	b.Deregister("logs")
	assert.NoError(t, b.Register("logs", ReceiverFunc(func(Message) Result { return NotMine })))
}

func TestSendDeliversInRegistrationOrder(t *testing.T) {
	b := New(metrics.New())

	var order []string
	for _, name := range []string{"rum", "logs", "trace"} {
		name := name
		require.NoError(t, b.Register(name, ReceiverFunc(func(Message) Result {
			order = append(order, name)
			return NotMine
		})))
	}

	b.Send(NewMessage("ping"))
	assert.Equal(t, []string{"rum", "logs", "trace"}, order)
}

func TestSendMulticastAndBaggageDecode(t *testing.T) {
	b := New(metrics.New())

	type rumRef struct {
		SessionID string `json:"session_id"`
	}

	var got []string

	// 같은 메시지를 두 receiver 가 독립적으로 소비할 수 있다.
	for _, name := range []string{"logs", "trace"} {
		name := name
		require.NoError(t, b.Register(name, ReceiverFunc(func(msg Message) Result {
			if msg.Label != "rum" {
				return NotMine
			}
			var ref rumRef
			if err := msg.Decode("rum", &ref); err != nil {
				return DecodeError
			}
			got = append(got, name+":"+ref.SessionID)
			return Consumed
		})))
	}

	msg := NewMessage("rum")
	require.NoError(t, msg.Set("rum", rumRef{SessionID: "S1"}))
	b.Send(msg)

	assert.Equal(t, []string{"logs:S1", "trace:S1"}, got)
}

func TestDecodeErrorDoesNotStopDelivery(t *testing.T) {
	m := metrics.New()
	b := New(m)

	require.NoError(t, b.Register("broken", ReceiverFunc(func(msg Message) Result {
		var wrong int
		if err := msg.Decode("payload", &wrong); err != nil {
			return DecodeError
		}
		return Consumed
	})))

	delivered := false
	require.NoError(t, b.Register("healthy", ReceiverFunc(func(msg Message) Result {
		delivered = true
		return Consumed
	})))

	msg := NewMessage("x")
	require.NoError(t, msg.Set("payload", "not-an-int"))
	b.Send(msg)

	assert.True(t, delivered, "후속 receiver 에도 전달되어야 한다")
	assert.Equal(t, int64(1), m.BusDecodeErrorsTotal)
}

func TestDecodeMissingKey(t *testing.T) {
	msg := NewMessage("x")
	var out string
	assert.ErrorIs(t, msg.Decode("absent", &out), ErrNoBaggageKey)
}

func TestUnconsumedMessageIsDropped(t *testing.T) {
	b := New(metrics.New())
	// receiver 없음. 에러 없이 그냥 버려져야 한다.
	b.Send(NewMessage("nobody-cares"))
}
