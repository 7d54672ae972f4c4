// Package logger holds the logrus logger used by the hosted tools.
package logger

import (
	"io"
	"os"

	"efikernel/kernel/kfmt"

	logger "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var L = &logger.Logger{
	Out:   os.Stderr,
	Level: logger.InfoLevel,
	Hooks: make(logger.LevelHooks),
	Formatter: &prefixed.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	},
}

// SetLevel parses level and applies it to L.
func SetLevel(level string) error {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return err
	}

	L.SetLevel(lvl)
	return nil
}

// KernelSink returns a writer that forwards kernel console output to L at
// info level, one entry per line. The caller closes the returned writer once
// the kernel output is no longer needed.
func KernelSink() io.WriteCloser {
	pw := L.WriterLevel(logger.InfoLevel)
	return &kernelSink{
		PrefixWriter: kfmt.PrefixWriter{Sink: pw, Prefix: []byte("[kernel] ")},
		pipe:         pw,
	}
}

type kernelSink struct {
	kfmt.PrefixWriter
	pipe io.Closer
}

func (s *kernelSink) Close() error {
	return s.pipe.Close()
}
