package partialmap

import (
	"io"
	"log"
	"sync"
	"time"

	goccy "github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"
)

// OpEntry is one applied operation recorded for operational diagnostics:
// not a durability mechanism (the total order and the flushed tree are
// the durable record), just a rotated, greppable trail of what a given
// client has seen applied.
type OpEntry struct {
	Time     string `json:"time"`
	Sequence uint64 `json:"sequence"`
	Kind     string `json:"kind"`
	Local    bool   `json:"local"`
}

// OpLogger writes applied-op entries to a file as JSON, rotating it
// automatically via lumberjack.
type OpLogger struct {
	mu     sync.Mutex
	writer io.WriteCloser
	enc    *goccy.Encoder
}

// NewOpLogger opens (or creates) a rotated JSON log at path.
func NewOpLogger(path string) *OpLogger {
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     365,
		Compress:   true,
	}
	return &OpLogger{writer: writer, enc: goccy.NewEncoder(writer)}
}

// Log records one applied op. Encoding failures are logged to the
// process's own writer rather than panicking: unlike a security audit
// trail, losing one diagnostic line is never fatal to the controller.
func (l *OpLogger) Log(seq uint64, kind string, local bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(OpEntry{
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		Sequence: seq,
		Kind:     kind,
		Local:    local,
	}); err != nil {
		log.Printf("oplog encode failed: %v", err)
	}
}

// Close closes the underlying log file.
func (l *OpLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}
