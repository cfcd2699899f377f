package attendance

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// FallbackLog is the durable record of undelivered events, one JSON object
// per line. Writers only append; a sweep rewrites the file atomically.
type FallbackLog struct {
	path    string
	mu      sync.Mutex // guards the file
	sweepMu sync.Mutex // one sweep at a time
}

func NewFallbackLog(path string) *FallbackLog {
	return &FallbackLog{path: path}
}

// Path returns the file backing the log.
func (f *FallbackLog) Path() string {
	return f.path
}

// Append writes one event to the end of the log.
func (f *FallbackLog) Append(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("could not open fallback log: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return fmt.Errorf("could not write fallback log: %w", err)
	}
	return file.Close()
}

// Entries returns every decodable event in the log.
func (f *FallbackLog) Entries() ([]Event, error) {
	data, err := f.read()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, line := range splitLines(data) {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *FallbackLog) read() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read fallback log: %w", err)
	}
	return data, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines
}

// Sweep tries to redeliver every entry present when it starts. Delivered
// entries are removed; failed and undecodable ones stay, followed by
// anything appended while the sweep ran.
func (f *FallbackLog) Sweep(ctx context.Context, deliver func(context.Context, Event) error) (delivered, remaining int, err error) {
	f.sweepMu.Lock()
	defer f.sweepMu.Unlock()

	snapshot, err := f.read()
	if err != nil || len(snapshot) == 0 {
		return 0, 0, err
	}

	var keep bytes.Buffer
	for _, line := range splitLines(snapshot) {
		var ev Event
		if jerr := json.Unmarshal(line, &ev); jerr != nil {
			log.Warn().Err(jerr).Msg("keeping undecodable fallback entry")
			keep.Write(line)
			keep.WriteByte('\n')
			remaining++
			continue
		}
		if ctx.Err() == nil {
			derr := deliver(ctx, ev)
			if derr == nil {
				delivered++
				continue
			}
			log.Warn().Err(derr).Str("employee_id", ev.EmployeeID).Str("event", string(ev.Type)).Msg("fallback redelivery failed")
		}
		keep.Write(line)
		keep.WriteByte('\n')
		remaining++
	}

	if delivered == 0 {
		return 0, remaining, nil
	}
	return delivered, remaining, f.rewrite(snapshot, keep.Bytes())
}

// rewrite replaces the log with kept followed by whatever was appended
// after snapshot was taken.
func (f *FallbackLog) rewrite(snapshot, kept []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not read fallback log: %w", err)
	}
	var tail []byte
	if bytes.HasPrefix(current, snapshot) {
		tail = current[len(snapshot):]
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("could not create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(kept); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write temp file: %w", err)
	}
	if _, err := tmp.Write(tail); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("could not replace fallback log: %w", err)
	}
	return nil
}
