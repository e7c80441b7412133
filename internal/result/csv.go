package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// header is the fixed first row of the result log.
var header = []string{"Test Class", "Test ID", "Recipient", "Delivered", "Code", "Message"}

// CSV writes outcomes as comma separated rows.
type CSV struct {
	w      *csv.Writer
	closer io.Closer
	closed bool
}

// OpenCSV creates (or truncates) the log file at path and writes the header row.
func OpenCSV(path string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create result log: %w", err)
	}

	s, err := NewCSV(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// NewCSV writes the header row to w and returns a sink appending to it. If w
// is an io.Closer it is closed together with the sink.
func NewCSV(w io.Writer) (*CSV, error) {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	s := &CSV{w: cw}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}

	if err := s.write(header); err != nil {
		return nil, fmt.Errorf("failed to write result log header: %w", err)
	}
	return s, nil
}

// Log appends one row. Rows are flushed immediately so that an aborted run
// still leaves a usable log.
func (s *CSV) Log(o Outcome) error {
	if s.closed {
		return fmt.Errorf("result log is closed")
	}
	return s.write([]string{
		o.Test,
		strconv.Itoa(o.Case),
		o.Recipient,
		formatBool(o.Delivered),
		strconv.Itoa(o.Code),
		o.Message,
	})
}

// Close flushes pending rows and releases the underlying file. Calling it
// more than once is a no-op.
func (s *CSV) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *CSV) write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// formatBool renders booleans the way the log has always rendered them.
func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
