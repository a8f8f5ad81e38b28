package bpe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const mergesHeader = "#version: subword-go v1"

// FromFiles parses a vocabulary table and an ordered merge-rule file
// and constructs an immutable model. The vocabulary is one
// token<TAB>id per line; the merges file is one "left right" pair per
// line with merge priority given by line order, optionally preceded by
// a single #version header. Any syntax problem fails with
// ErrMalformedModel and no partial model is constructed.
func FromFiles(vocabPath, mergesPath string, opts *ModelOptions) (*Model, error) {
	vocab, err := readVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	merges, err := readMerges(mergesPath)
	if err != nil {
		return nil, err
	}
	return New(vocab, merges, opts)
}

func readVocab(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int)
	lineNo := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read vocab: %w", err)
		}
		if line == "" && errors.Is(err, io.EOF) {
			break
		}
		lineNo++
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			cols := strings.Split(line, "\t")
			if len(cols) != 2 {
				return nil, fmt.Errorf("%w: %s:%d: want 2 columns, got %d", ErrMalformedModel, path, lineNo, len(cols))
			}
			id, perr := strconv.Atoi(cols[1])
			if perr != nil {
				return nil, fmt.Errorf("%w: %s:%d: bad id %q", ErrMalformedModel, path, lineNo, cols[1])
			}
			if _, dup := vocab[cols[0]]; dup {
				return nil, fmt.Errorf("%w: %s:%d: duplicate token %q", ErrMalformedModel, path, lineNo, cols[0])
			}
			vocab[cols[0]] = id
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return vocab, nil
}

func readMerges(path string) ([]Merge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open merges: %w", err)
	}
	defer f.Close()

	var merges []Merge
	lineNo := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read merges: %w", err)
		}
		if line == "" && errors.Is(err, io.EOF) {
			break
		}
		lineNo++
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
		case lineNo == 1 && strings.HasPrefix(line, "#version"):
			// header emitted by Save; symbols themselves never start
			// with "#version" so only the first line is treated this way
		default:
			cols := strings.Split(line, " ")
			if len(cols) != 2 || cols[0] == "" || cols[1] == "" {
				return nil, fmt.Errorf("%w: %s:%d: want \"left right\", got %q", ErrMalformedModel, path, lineNo, line)
			}
			merges = append(merges, Merge{Left: cols[0], Right: cols[1]})
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return merges, nil
}

// Save writes the model back out as <name>-vocab.txt and
// <name>-merges.txt under dir, in the same format FromFiles reads.
// It returns the two paths written.
func (m *Model) Save(dir, name string) ([]string, error) {
	prefix := "subword"
	if name != "" {
		prefix = name
	}
	vocabPath := filepath.Join(dir, prefix+"-vocab.txt")
	mergesPath := filepath.Join(dir, prefix+"-merges.txt")

	type entry struct {
		tok string
		id  int
	}
	entries := make([]entry, 0, len(m.vocab))
	for tok, id := range m.vocab {
		entries = append(entries, entry{tok, id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	vf, err := os.Create(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("save vocab: %w", err)
	}
	w := bufio.NewWriter(vf)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\n", e.tok, e.id)
	}
	if err := w.Flush(); err != nil {
		vf.Close()
		return nil, fmt.Errorf("save vocab: %w", err)
	}
	if err := vf.Close(); err != nil {
		return nil, fmt.Errorf("save vocab: %w", err)
	}

	mf, err := os.Create(mergesPath)
	if err != nil {
		return nil, fmt.Errorf("save merges: %w", err)
	}
	w = bufio.NewWriter(mf)
	fmt.Fprintln(w, mergesHeader)
	for _, mg := range m.merges {
		fmt.Fprintf(w, "%s %s\n", mg.Left, mg.Right)
	}
	if err := w.Flush(); err != nil {
		mf.Close()
		return nil, fmt.Errorf("save merges: %w", err)
	}
	if err := mf.Close(); err != nil {
		return nil, fmt.Errorf("save merges: %w", err)
	}
	return []string{vocabPath, mergesPath}, nil
}
