// aof.go wraps the journal file handle. Writes land in a bufio.Writer under a
// mutex and reach the disk when the maintenance loop calls Fsync. What gets
// written (RESP commands, snapshots) is decided in persistence.go.

package main

import (
	"bufio"
	"bytes"
	"os"
	"sync"
)

type AOF struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	// rewriteBuf collects commands appended while a compaction is writing
	// its snapshot. They are re-appended to the new journal after the swap.
	rewriteBuf *bytes.Buffer
}

func NewAOF(path string) (*AOF, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, err
	}
	return &AOF{file: f, writer: bufio.NewWriter(f)}, nil
}

// Write appends data to the in-memory buffer.
func (aof *AOF) Write(data []byte) error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if aof.rewriteBuf != nil {
		aof.rewriteBuf.Write(data)
	}
	_, err := aof.writer.Write(data)
	return err
}

// beginRewrite starts mirroring appends into the rewrite buffer.
func (aof *AOF) beginRewrite() {
	aof.mu.Lock()
	aof.rewriteBuf = new(bytes.Buffer)
	aof.mu.Unlock()
}

// abortRewrite stops mirroring and drops the rewrite buffer.
func (aof *AOF) abortRewrite() {
	aof.mu.Lock()
	aof.rewriteBuf = nil
	aof.mu.Unlock()
}

// Size returns the on-disk size of the journal, excluding buffered bytes.
func (aof *AOF) Size() (int64, error) {
	aof.mu.Lock()
	defer aof.mu.Unlock()
	stat, err := aof.file.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func (aof *AOF) Close() error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if err := aof.writer.Flush(); err != nil {
		return err
	}
	return aof.file.Close()
}

// Fsync flushes the buffer to the kernel and forces the kernel to write it
// to the device.
func (aof *AOF) Fsync() error {
	aof.mu.Lock()
	defer aof.mu.Unlock()

	if err := aof.writer.Flush(); err != nil {
		return err
	}
	return aof.file.Sync()
}
