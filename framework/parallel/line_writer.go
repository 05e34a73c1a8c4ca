package parallel

import (
	"bytes"
	"io"
	"sync"
)

// lineWriter copies complete lines to an underlying writer with a prefix on each. A partial
// line is held until its newline arrives or Close is called.
type lineWriter struct {
	writer  io.Writer
	prefix  []byte
	lock    sync.Mutex
	pending []byte
}

func newLineWriter(writer io.Writer, prefix string) *lineWriter {
	return &lineWriter{writer: writer, prefix: []byte(prefix)}
}

func (l *lineWriter) Write(data []byte) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.pending = append(l.pending, data...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			return len(data), nil
		}
		if err := l.emit(l.pending[:i+1]); err != nil {
			return len(data), err
		}
		l.pending = l.pending[i+1:]
	}
}

// Close writes out any partial line. It does not close the underlying writer.
func (l *lineWriter) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	line := append(l.pending, '\n')
	l.pending = nil
	return l.emit(line)
}

func (l *lineWriter) emit(line []byte) error {
	buf := make([]byte, 0, len(l.prefix)+len(line))
	buf = append(append(buf, l.prefix...), line...)
	_, err := l.writer.Write(buf)
	return err
}
