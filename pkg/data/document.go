package data

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Document is one pre-tokenized example: source words and its keyphrases.
type Document struct {
	Src []string   `json:"src"`
	Trg [][]string `json:"trg"`
}

// UnmarshalJSON accepts src as a word list or a whitespace-tokenized string,
// and trg as a list of word lists, a list of strings, or a single
// ';'-separated string.
func (d *Document) UnmarshalJSON(b []byte) error {
	var raw struct {
		Src json.RawMessage `json:"src"`
		Trg json.RawMessage `json:"trg"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	src, err := decodeWords(raw.Src)
	if err != nil {
		return fmt.Errorf("invalid src: %w", err)
	}
	trg, err := decodePhrases(raw.Trg)
	if err != nil {
		return fmt.Errorf("invalid trg: %w", err)
	}
	d.Src, d.Trg = src, trg
	return nil
}

func decodeWords(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var words []string
	if err := json.Unmarshal(raw, &words); err == nil {
		return words, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return strings.Fields(s), nil
}

func decodePhrases(raw json.RawMessage) ([][]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var nested [][]string
	if err := json.Unmarshal(raw, &nested); err == nil {
		return dropEmpty(nested), nil
	}
	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return splitPhrases(flat), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return splitPhrases(strings.Split(s, ";")), nil
}

func splitPhrases(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		if words := strings.Fields(p); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

func dropEmpty(phrases [][]string) [][]string {
	out := phrases[:0]
	for _, p := range phrases {
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Lower lowercases every source and target word in place.
func (d *Document) Lower() {
	for i, w := range d.Src {
		d.Src[i] = strings.ToLower(w)
	}
	for _, kp := range d.Trg {
		for i, w := range kp {
			kp[i] = strings.ToLower(w)
		}
	}
}

// Lowered returns a lowercased copy of the document.
func (d Document) Lowered() Document {
	out := Document{Src: make([]string, len(d.Src))}
	for i, w := range d.Src {
		out.Src[i] = strings.ToLower(w)
	}
	if d.Trg != nil {
		out.Trg = make([][]string, len(d.Trg))
		for i, kp := range d.Trg {
			out.Trg[i] = make([]string, len(kp))
			for j, w := range kp {
				out.Trg[i][j] = strings.ToLower(w)
			}
		}
	}
	return out
}

// ReadDocuments parses JSON lines. Blank lines are skipped.
func ReadDocuments(r io.Reader, lowercase bool) ([]Document, error) {
	var docs []Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var d Document
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if lowercase {
			d.Lower()
		}
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// LoadDocuments reads a JSONL dataset file.
func LoadDocuments(path string, lowercase bool) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	docs, err := ReadDocuments(f, lowercase)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return docs, nil
}

// IsPresent reports whether kp occurs as a contiguous word sequence in src.
func IsPresent(src, kp []string) bool {
	if len(kp) == 0 || len(kp) > len(src) {
		return false
	}
	for i := 0; i+len(kp) <= len(src); i++ {
		match := true
		for j := range kp {
			if src[i+j] != kp[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
