package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/dawsonblock/ds-router/internal/types"
)

// FileSink appends one JSON object per line to a file, used as the
// durable audit trail in production. It never blocks provider calls: a
// write failure is returned to the caller, who logs and continues.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewFileSink opens path for append, creating it if necessary.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f, writer: bufio.NewWriter(f)}, nil
}

// Log appends rec as one JSON-lines record and flushes immediately, so
// a crash immediately after Log returning nil never loses the record.
func (s *FileSink) Log(rec types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	return s.writer.Flush()
}

// Query re-reads the file from the start and filters in memory. This
// sink is append-only and intended for write-path durability; high
// volume querying should go through a downstream log shipper instead.
func (s *FileSink) Query(filter Filter) ([]types.AuditRecord, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var result []types.AuditRecord
	for _, rec := range all {
		if matches(rec, filter) {
			result = append(result, rec)
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []types.AuditRecord{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Count re-reads the file and counts matches.
func (s *FileSink) Count(filter Filter) (int, error) {
	all, err := s.readAll()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range all {
		if matches(rec, filter) {
			count++
		}
	}
	return count, nil
}

func (s *FileSink) readAll() ([]types.AuditRecord, error) {
	s.mu.Lock()
	if err := s.writer.Flush(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	f, err := os.Open(s.file.Name())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []types.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
