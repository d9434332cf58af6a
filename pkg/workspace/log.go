package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const bannerRule = 50

// WriteLogHeader creates the job log and writes the banner that precedes
// the container's output.
func WriteLogHeader(path string, startedAt time.Time, resource, image string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "Job started at %s\n", startedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Resource: %s\n", resource)
	fmt.Fprintf(&b, "Image: %s\n", image)
	b.WriteString(strings.Repeat("-", bannerRule))
	b.WriteString("\n\n")

	_, err = f.WriteString(b.String())
	return err
}

// OpenLogAppend opens the job log for appending, creating it if the
// header was never written (recovery path).
func OpenLogAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

// AppendErrorBlock appends a delimited error report to the job log. The
// stack may be nil. Best-effort: the log file is user-facing output, not
// the source of truth for the failure (that is the job record).
func AppendErrorBlock(path, msg string, stack []byte) error {
	f, err := OpenLogAppend(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rule := strings.Repeat("=", bannerRule)
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n%s\nERROR: %s\n%s\n", rule, msg, rule)
	if len(stack) > 0 {
		b.Write(stack)
		if stack[len(stack)-1] != '\n' {
			b.WriteByte('\n')
		}
	}

	_, err = f.WriteString(b.String())
	return err
}

// Tail returns the last n lines of the log, or the whole log when n <= 0
func Tail(path string, n int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(data) == 0 {
		return data, nil
	}

	lines := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append(bytes.Join(lines, []byte("\n")), '\n'), nil
}

// Follow copies log bytes to w from the beginning of the file and keeps
// polling for appended data. It returns nil once done reports true and a
// final poll found nothing new, or ctx's error on cancellation. A missing
// file counts as empty (the header may not exist yet).
func Follow(ctx context.Context, path string, w io.Writer, interval time.Duration, done func() bool) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var offset int64
	for {
		n, err := copyFrom(path, w, offset)
		if err != nil {
			return err
		}
		offset += n

		if n == 0 && done != nil && done() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func copyFrom(path string, w io.Writer, offset int64) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(w, f)
}
