// Package chunkstore reads and writes the chunk artifact, one JSON object per line.
package chunkstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"trialwhisperer/internal/domain"
)

const maxLine = 4 << 20

// Write encodes chunks as JSON lines.
func Write(w io.Writer, chunks []domain.Chunk) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range chunks {
		if err := enc.Encode(chunks[i]); err != nil {
			return fmt.Errorf("encode chunk %s: %w", chunks[i].Key(), err)
		}
	}
	return bw.Flush()
}

// Read decodes JSON lines into chunks. Blank lines are skipped; a malformed
// line is an error naming its line number.
func Read(r io.Reader) ([]domain.Chunk, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	var out []domain.Chunk
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var ch domain.Chunk
		if err := json.Unmarshal([]byte(raw), &ch); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ch.TrialID == "" || !ch.Section.Valid() {
			return nil, fmt.Errorf("line %d: %w: chunk needs trial_id and a known section", line, domain.ErrInvalidInput)
		}
		out = append(out, ch)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteFile writes chunks to path, creating parent directories.
func WriteFile(path string, chunks []domain.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Write(f, chunks); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFile reads chunks from path. A missing file yields no chunks.
func ReadFile(path string) ([]domain.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	chunks, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return chunks, nil
}
