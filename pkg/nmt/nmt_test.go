package nmt

import (
	"testing"

	canopen "github.com/canofirmware/nodestack"
	"github.com/canofirmware/nodestack/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildEntry1017(intervalMs uint16) *od.Entry {
	var buf [2]byte
	buf[0] = byte(intervalMs)
	buf[1] = byte(intervalMs >> 8)
	dict := od.NewBuilder().
		AddVar(0x1017, od.NewVar(od.NewScalarField(2, buf[:]), od.SubInfo{Size: 2, DataType: od.UInt16, Access: od.Rw})).
		Build()
	return dict.Index(0x1017)
}

func buildEntryAutoStart(value uint8) *od.Entry {
	dict := od.NewBuilder().
		AddVar(0x5000, od.NewVar(od.NewScalarField(1, []byte{value}), od.SubInfo{Size: 1, DataType: od.UInt8, Access: od.Rw})).
		Build()
	return dict.Index(0x5000)
}

func TestBootEmitsHeartbeat(t *testing.T) {
	s := New(nil, 1, buildEntry1017(100), nil, nil, nil)
	var sent []canopen.Frame
	s.Boot(func(f canopen.Frame) error { sent = append(sent, f); return nil })

	require.Len(t, sent, 1)
	assert.EqualValues(t, 0x701, sent[0].ID)
	assert.Equal(t, byte(PreOperational), sent[0].Data[0])
	assert.Equal(t, PreOperational, s.State())
}

func TestBootWithAutoStartEntersOperationalDirectly(t *testing.T) {
	s := New(nil, 1, buildEntry1017(0), buildEntryAutoStart(1), nil, nil)
	var sent []canopen.Frame
	s.Boot(func(f canopen.Frame) error { sent = append(sent, f); return nil })

	require.Len(t, sent, 1)
	assert.Equal(t, byte(Operational), sent[0].Data[0])
	assert.Equal(t, Operational, s.State())
}

func TestBootWithAutoStartZeroEntersPreOperational(t *testing.T) {
	s := New(nil, 1, buildEntry1017(0), buildEntryAutoStart(0), nil, nil)
	s.Boot(func(canopen.Frame) error { return nil })
	assert.Equal(t, PreOperational, s.State())
}

func TestStartCommandEntersOperational(t *testing.T) {
	s := New(nil, 1, buildEntry1017(0), nil, nil, nil)
	s.Boot(func(canopen.Frame) error { return nil })

	var sent canopen.Frame
	s.HandleFrame([8]byte{byte(CommandStart), 0}, func(f canopen.Frame) error { sent = f; return nil })
	assert.Equal(t, Operational, s.State())
	assert.Equal(t, byte(Operational), sent.Data[0])
}

func TestCommandForOtherNodeIgnored(t *testing.T) {
	s := New(nil, 1, buildEntry1017(0), nil, nil, nil)
	s.Boot(func(canopen.Frame) error { return nil })

	s.HandleFrame([8]byte{byte(CommandStart), 2}, func(canopen.Frame) error {
		t.Fatal("should not send")
		return nil
	})
	assert.Equal(t, PreOperational, s.State())
}

func TestCommandIgnoredBeforeNodeIdKnown(t *testing.T) {
	s := New(nil, NodeIdUnknown, buildEntry1017(0), nil, nil, nil)
	s.HandleFrame([8]byte{byte(CommandStart), 0}, func(canopen.Frame) error {
		t.Fatal("should not send")
		return nil
	})
	assert.Equal(t, Bootup, s.State())
}

func TestResetAppInvokesHookAndEntersPreOp(t *testing.T) {
	called := false
	s := New(nil, 1, buildEntry1017(0), nil, func() { called = true }, nil)
	s.Boot(func(canopen.Frame) error { return nil })
	s.HandleFrame([8]byte{byte(CommandStart), 0}, func(canopen.Frame) error { return nil })

	s.HandleFrame([8]byte{byte(CommandResetApp), 0}, func(canopen.Frame) error { return nil })
	assert.True(t, called)
	assert.Equal(t, PreOperational, s.State())
}

func TestTickFiresHeartbeatAtInterval(t *testing.T) {
	s := New(nil, 1, buildEntry1017(10), nil, nil, nil)
	var sent []canopen.Frame
	toggle := false

	s.Tick(9999, &toggle, func(f canopen.Frame) error { sent = append(sent, f); return nil })
	assert.Empty(t, sent)

	s.Tick(1, &toggle, func(f canopen.Frame) error { sent = append(sent, f); return nil })
	require.Len(t, sent, 1)
	assert.True(t, toggle)
	assert.EqualValues(t, 0x80, sent[0].Data[0]&0x80)
}

func TestTickDisabledWhenIntervalZero(t *testing.T) {
	s := New(nil, 1, buildEntry1017(0), nil, nil, nil)
	toggle := false
	s.Tick(1_000_000, &toggle, func(canopen.Frame) error {
		t.Fatal("should not send")
		return nil
	})
}
