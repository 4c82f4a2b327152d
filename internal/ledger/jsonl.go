package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// appendLine marshals v and appends it as one JSON line. The file is opened
// per append so the log survives process restarts without held handles.
func appendLine(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append log %s: %w", path, err)
	}
	return nil
}

// scanLines calls fn for each line of the log. Lines that fail fn (malformed
// records) are counted and skipped; the scan never aborts part-way. A missing
// file yields zero lines and no error, matching the fail-open read policy.
func scanLines(path string, fn func(line []byte) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("scan log %s: %w", path, err)
	}
	return skipped, nil
}

// rewrite atomically replaces the log with the given records, used for cap
// eviction on the history stores.
func rewrite(path string, records []interface{}) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal record: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush temp log: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp log: %w", err)
	}
	return os.Rename(tmp, path)
}
