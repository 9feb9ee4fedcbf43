/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ssgreg/logf"

	"github.com/complianceguardian/guardian/log"
)

type entryWriter struct {
	sync.Mutex
	encoder logf.Encoder
	output  io.Writer
}

//nolint:gocritic
func (ew *entryWriter) WriteEntry(e logf.Entry) {
	var buf logf.Buffer
	if err := ew.encoder.Encode(&buf, e); err != nil {
		ew.write(err.Error())
		return
	}
	ew.write(string(buf.Data))
}

func (ew *entryWriter) write(s string) {
	ew.Lock()
	defer ew.Unlock()
	_, _ = fmt.Fprint(ew.output, s)
}

// NewLogger returns a synchronous JSON logger writing debug-level entries to stderr.
// It is slow and should be used only in tests.
func NewLogger() log.FieldLogger {
	return NewLoggerWithOutput(os.Stderr)
}

// NewLoggerWithOutput is like NewLogger but writes to w.
func NewLoggerWithOutput(w io.Writer) log.FieldLogger {
	ew := &entryWriter{
		encoder: logf.NewJSONEncoder(logf.JSONEncoderConfig{
			EncodeTime:   logf.RFC3339NanoTimeEncoder,
			FieldKeyTime: "time",
		}),
		output: w,
	}
	return &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, ew)}
}
