package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tokenScope/internal/model"
)

// DecodeErrorLog keeps an append-only JSON-lines record of factory logs that
// could not be decoded, so they can be replayed after an ABI fix.
type DecodeErrorLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// OpenDecodeErrorLog opens path for appending, creating it and its directory.
func OpenDecodeErrorLog(path string) (*DecodeErrorLog, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: decode error log path is empty", ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create decode error log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decode error log: %w", err)
	}
	writer := bufio.NewWriter(file)
	return &DecodeErrorLog{file: file, writer: writer, enc: json.NewEncoder(writer)}, nil
}

// PutDecodeErrors appends one line per record and flushes before returning.
func (l *DecodeErrorLog) PutDecodeErrors(records []model.DecodeError) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("decode error log is closed")
	}
	for _, record := range records {
		if err := l.enc.Encode(record); err != nil {
			return fmt.Errorf("encode decode error at block %d: %w", record.BlockNumber, err)
		}
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush decode error log: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Later writes fail.
func (l *DecodeErrorLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	flushErr := l.writer.Flush()
	closeErr := l.file.Close()
	l.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush decode error log: %w", flushErr)
	}
	return closeErr
}
