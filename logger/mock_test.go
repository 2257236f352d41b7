package logger

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMockLogger_AllowAll(t *testing.T) {
	m := NewMockLogger().AllowAll()

	child := m.With("transport", "katcp")
	require.Same(t, m, child)

	child.Warn("katcp write failed", "device", "sys_scratchpad")
	child.SetLevel(ErrorLevel)
	require.Equal(t, DebugLevel, child.Level())

	m.AssertCalled(t, "With", []any{"transport", "katcp"})
	m.AssertCalled(t, "Warn", "katcp write failed", []any{"device", "sys_scratchpad"})
	m.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)
}

func TestMockLogger_Expectations(t *testing.T) {
	m := NewMockLogger()
	m.On("Info", "session connected", mock.Anything).Once()

	m.Info("session connected", "host", "roach2")

	m.AssertExpectations(t)
}
