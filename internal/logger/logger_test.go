package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer L.SetLevel(logrus.InfoLevel)

	require.NoError(t, SetLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.GetLevel())

	assert.Error(t, SetLevel("chatty"))
	assert.Equal(t, logrus.DebugLevel, L.GetLevel())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestKernelSink(t *testing.T) {
	var buf lockedBuffer
	origOut := L.Out
	L.SetOutput(&buf)
	defer L.SetOutput(origOut)

	sink := KernelSink()
	_, err := sink.Write([]byte("[pfa] free memory: 4096 bytes (1 pages)\n"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	// The pipe behind WriterLevel is drained by a separate goroutine.
	assert.Eventually(t, func() bool {
		out := buf.String()
		return strings.Contains(out, "kernel") && strings.Contains(out, "free memory: 4096 bytes (1 pages)")
	}, time.Second, 10*time.Millisecond)
}
