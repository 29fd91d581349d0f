package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"trialwhisperer/internal/normalizer"
)

// LoadDir reads every .json, .jsonl and .xml file under dir in lexical
// order. A .json file holding an array or a {"studies": [...]} page yields
// one record per element; a .jsonl file yields one record per line.
func LoadDir(dir string) ([]normalizer.RawRecord, error) {
	var out []normalizer.RawRecord
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".xml":
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out = append(out, normalizer.RawRecord{Source: path, Format: normalizer.FormatXML, Data: data})
		case ".json":
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out = append(out, splitJSON(path, data)...)
		case ".jsonl":
			recs, err := readJSONL(path)
			if err != nil {
				return err
			}
			out = append(out, recs...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", dir, err)
	}
	return out, nil
}

// FromStudies wraps registry API studies as raw records.
func FromStudies(studies []json.RawMessage) []normalizer.RawRecord {
	out := make([]normalizer.RawRecord, len(studies))
	for i, s := range studies {
		out[i] = normalizer.RawRecord{Source: fmt.Sprintf("ctgov#%d", i), Format: normalizer.FormatJSON, Data: s}
	}
	return out
}

// WriteStudies stores fetched studies as JSONL so a later ingest can replay them.
func WriteStudies(path string, studies []json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, s := range studies {
		if err := json.Compact(&buf, s); err != nil {
			return fmt.Errorf("compacting study: %w", err)
		}
		buf.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func splitJSON(path string, data []byte) []normalizer.RawRecord {
	trimmed := bytes.TrimSpace(data)
	var items []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			items = nil
		}
	} else {
		var page struct {
			Studies []json.RawMessage `json:"studies"`
		}
		if err := json.Unmarshal(trimmed, &page); err == nil && page.Studies != nil {
			items = page.Studies
		}
	}
	if items == nil {
		return []normalizer.RawRecord{{Source: path, Format: normalizer.FormatJSON, Data: data}}
	}
	out := make([]normalizer.RawRecord, len(items))
	for i, it := range items {
		out[i] = normalizer.RawRecord{Source: fmt.Sprintf("%s[%d]", path, i), Format: normalizer.FormatJSON, Data: it}
	}
	return out
}

func readJSONL(path string) ([]normalizer.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []normalizer.RawRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		out = append(out, normalizer.RawRecord{
			Source: fmt.Sprintf("%s:%d", path, line),
			Format: normalizer.FormatJSON,
			Data:   append([]byte(nil), b...),
		})
	}
	return out, sc.Err()
}
