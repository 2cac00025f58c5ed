// Package vocab loads the word vocabulary shared by the data loader and the
// prediction post-processing.
package vocab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/soundprediction/kpset/pkg/types"
)

// ErrEmptyVocab is returned when a vocabulary file holds no usable words.
var ErrEmptyVocab = errors.New("vocabulary is empty")

// Vocab maps words to ids. Reserved words always take ids 0..len(types.SpecialWords)-1.
type Vocab struct {
	word2idx map[string]int
	idx2word []string
	size     int
}

// New builds a vocabulary from words in frequency order. size caps the
// usable ids (vocab_size); zero or a value larger than the word count uses
// every word.
func New(words []string, size int) (*Vocab, error) {
	v := &Vocab{word2idx: make(map[string]int)}
	for _, w := range types.SpecialWords {
		v.add(w)
	}
	for _, w := range words {
		v.add(w)
	}
	if len(v.idx2word) == len(types.SpecialWords) {
		return nil, ErrEmptyVocab
	}
	if size <= 0 || size > len(v.idx2word) {
		size = len(v.idx2word)
	}
	if size <= len(types.SpecialWords) {
		return nil, fmt.Errorf("vocab size %d does not exceed the %d reserved words", size, len(types.SpecialWords))
	}
	v.size = size
	return v, nil
}

func (v *Vocab) add(w string) {
	if w == "" {
		return
	}
	if _, ok := v.word2idx[w]; ok {
		return
	}
	v.word2idx[w] = len(v.idx2word)
	v.idx2word = append(v.idx2word, w)
}

// Load reads a vocabulary file: one word per line, optionally followed by a
// tab and a count. Blank lines and lines starting with '#' are ignored.
func Load(path string, size int) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	v, err := Read(f, size)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	return v, nil
}

// Read parses the vocabulary format described in Load.
func Read(r io.Reader, size int) (*Vocab, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexAny(line, "\t "); i >= 0 {
			line = line[:i]
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return New(words, size)
}

// Size is the number of usable ids (vocab_size).
func (v *Vocab) Size() int {
	return v.size
}

// ID returns the id of w, or the <unk> id when w is unknown or beyond Size.
func (v *Vocab) ID(w string) int {
	id, ok := v.word2idx[w]
	if !ok || id >= v.size {
		return v.word2idx[types.UnkWord]
	}
	return id
}

// Contains reports whether w has an id below Size.
func (v *Vocab) Contains(w string) bool {
	id, ok := v.word2idx[w]
	return ok && id < v.size
}

// Word returns the word for id, or <unk> when id is out of range.
func (v *Vocab) Word(id int) string {
	if id < 0 || id >= v.size {
		return types.UnkWord
	}
	return v.idx2word[id]
}

// Special returns the ids of the reserved words.
func (v *Vocab) Special() types.SpecialIDs {
	return types.SpecialIDs{
		Pad:  v.word2idx[types.PadWord],
		Bos:  v.word2idx[types.BosWord],
		Eos:  v.word2idx[types.EosWord],
		Unk:  v.word2idx[types.UnkWord],
		Sep:  v.word2idx[types.SepWord],
		Null: v.word2idx[types.NullWord],
	}
}
