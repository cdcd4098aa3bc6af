package testutils

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Context returns a context cancelled at t's cleanup or after timeout.
func (h *TestHelper) Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CaptureLogs redirects the helper logger into a buffer until t ends.
func (h *TestHelper) CaptureLogs(t testing.TB) *bytes.Buffer {
	var buf bytes.Buffer
	out := h.Logger.Out
	h.Logger.SetOutput(&buf)
	t.Cleanup(func() { h.Logger.SetOutput(out) })
	return &buf
}

func CreateBlueZ() *BlueZBuilder {
	return NewBlueZBuilder()
}

func CreateBlueZFromJSON(jsonStrFmt string, args ...interface{}) *BlueZBuilder {
	return NewBlueZBuilder().FromJSON(jsonStrFmt, args...)
}
