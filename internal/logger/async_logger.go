// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// AsyncLogger decouples a logging call site from host I/O latency: every
// Write is copied onto a buffered channel and drained by one background
// goroutine, so a slow or rotating log file never blocks the operation that
// triggered the log line. A full buffer drops the message rather than
// blocking the caller, with a warning to stderr.
type AsyncLogger struct {
	w    io.Writer
	msgs chan []byte
	done chan struct{}

	closeOnce sync.Once
}

// NewAsyncLogger starts the drain goroutine and returns the logger. bufferSize
// is the number of pending writes it will hold before it starts dropping.
func NewAsyncLogger(w io.Writer, bufferSize int) *AsyncLogger {
	a := &AsyncLogger{
		w:    w,
		msgs: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncLogger) run() {
	for msg := range a.msgs {
		if _, err := a.w.Write(msg); err != nil {
			fmt.Fprintf(os.Stderr, "asynclogger: write failed: %v\n", err)
		}
	}
	close(a.done)
}

// Write copies p onto the pending-writes channel. It never blocks: if the
// buffer is full, the message is dropped and a warning is printed to stderr.
func (a *AsyncLogger) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case a.msgs <- buf:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains any pending writes, then closes the underlying writer if it
// implements io.Closer.
func (a *AsyncLogger) Close() error {
	a.closeOnce.Do(func() {
		close(a.msgs)
	})
	<-a.done
	if closer, ok := a.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
