package subword

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrNoModel is returned by Encode and Decode before a model has been
// set or trained.
var ErrNoModel = errors.New("tokenizer has no model")

// ErrCorpusRead wraps failures to read a training input file. The
// training call aborts and the prior model stays in place; no retry is
// attempted here.
var ErrCorpusRead = errors.New("corpus read failed")

// Config carries the pipeline stages of a Tokenizer. Nil fields get
// the defaults: NFKC normalization, metaspace pre-tokenization with
// "▁" and a prefix space, and the matching metaspace decoder.
type Config struct {
	Normalizer   Normalizer
	PreTokenizer PreTokenizer
	Decoder      Decoder
}

// Tokenizer composes a Normalizer, a PreTokenizer, a Model and a
// Decoder into an encode/decode pipeline with a train entry point.
// Encode and Decode read the model through one atomic pointer, so they
// are safe to call concurrently with Train: callers observe either the
// previous model or the fully trained one, never a partial state.
type Tokenizer struct {
	normalizer   Normalizer
	pretokenizer PreTokenizer
	decoder      Decoder
	model        atomic.Pointer[modelBox]
}

// modelBox exists because atomic.Pointer needs a concrete type.
type modelBox struct{ m Model }

// New builds a Tokenizer around model. A nil model is valid as a
// Train target only.
func New(model Model, cfg *Config) *Tokenizer {
	if cfg == nil {
		cfg = &Config{}
	}
	t := &Tokenizer{
		normalizer:   cfg.Normalizer,
		pretokenizer: cfg.PreTokenizer,
		decoder:      cfg.Decoder,
	}
	if t.normalizer == nil {
		t.normalizer = NFKC{}
	}
	if t.pretokenizer == nil {
		t.pretokenizer = NewMetaspace()
	}
	if t.decoder == nil {
		t.decoder = NewMetaspaceDecoder()
	}
	if model != nil {
		t.model.Store(&modelBox{m: model})
	}
	return t
}

// Model returns the current model snapshot, or nil before the first
// SetModel/Train.
func (t *Tokenizer) Model() Model {
	if box := t.model.Load(); box != nil {
		return box.m
	}
	return nil
}

// SetModel atomically replaces the model.
func (t *Tokenizer) SetModel(m Model) {
	t.model.Store(&modelBox{m: m})
}

// Normalize runs only the normalization stage. Exposed so callers can
// prepare corpora exactly the way the encode path does.
func (t *Tokenizer) Normalize(text string) string {
	return t.normalizer.Normalize(text)
}

// Encode runs text through the full pipeline and returns the flattened
// id sequence with token values and offsets into the original text.
// Offsets are resolved through the normalizer's alignment; a custom
// Normalizer that is not an AlignedNormalizer yields offsets into the
// normalized text instead.
func (t *Tokenizer) Encode(text string) (Encoding, error) {
	m := t.Model()
	if m == nil {
		return Encoding{}, ErrNoModel
	}
	normText, align := t.normalizeAligned(text)
	segs := t.pretokenizer.PreTokenize(normText)
	var enc Encoding
	for _, seg := range segs {
		toks, err := m.EncodeSegment(seg)
		if err != nil {
			return Encoding{}, err
		}
		for _, tok := range toks {
			off := [2]int{tok.Start, tok.End}
			if align != nil {
				off = remapSpan(align, off)
			}
			enc.IDs = append(enc.IDs, tok.ID)
			enc.Tokens = append(enc.Tokens, tok.Value)
			enc.Offsets = append(enc.Offsets, off)
		}
	}
	return enc, nil
}

func (t *Tokenizer) normalizeAligned(text string) (string, [][2]int) {
	if an, ok := t.normalizer.(AlignedNormalizer); ok {
		return an.NormalizeAligned(text)
	}
	return t.normalizer.Normalize(text), nil
}

// remapSpan projects a span over the normalized text back to the
// original text through the per-byte alignment. Zero-width spans stay
// zero width, anchored where they were synthesized.
func remapSpan(align [][2]int, span [2]int) [2]int {
	if span[0] >= span[1] {
		switch {
		case span[0] < len(align):
			p := align[span[0]][0]
			return [2]int{p, p}
		case len(align) > 0:
			e := align[len(align)-1][1]
			return [2]int{e, e}
		default:
			return [2]int{0, 0}
		}
	}
	return [2]int{align[span[0]][0], align[span[1]-1][1]}
}

// EncodeBatch encodes texts concurrently, one result per input. The
// first failure or a cancelled ctx short-circuits the rest.
func (t *Tokenizer) EncodeBatch(ctx context.Context, texts []string) ([]Encoding, error) {
	g, gctx := errgroup.WithContext(ctx)
	out := make([]Encoding, len(texts))
	for i, text := range texts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			enc, err := t.Encode(text)
			if err != nil {
				return err
			}
			out[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode maps ids back to token strings and reassembles text through
// the decoder. Ids unknown to the model are skipped; special tokens
// are skipped when skipSpecial is set.
func (t *Tokenizer) Decode(ids []int, skipSpecial bool) (string, error) {
	m := t.Model()
	if m == nil {
		return "", ErrNoModel
	}
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tok, ok := m.IDToToken(id)
		if !ok {
			continue
		}
		if skipSpecial && m.IsSpecial(id) {
			continue
		}
		tokens = append(tokens, tok)
	}
	return t.decoder.Decode(tokens), nil
}

// DecodeBatch decodes id sequences concurrently.
func (t *Tokenizer) DecodeBatch(ctx context.Context, batches [][]int, skipSpecial bool) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	out := make([]string, len(batches))
	for i, ids := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := t.Decode(ids, skipSpecial)
			if err != nil {
				return err
			}
			out[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Train streams each file's lines through the normalizer and
// pre-tokenizer, tallies segments, hands them to the trainer, and
// replaces the model in a single atomic swap. On any failure the
// previous model stays untouched.
//
// Files are read concurrently; the per-file tallies are merged in file
// order so first-seen ordering (and therefore the learned merge list)
// is reproducible for identical input.
func (t *Tokenizer) Train(ctx context.Context, files []string, trainer ModelTrainer) error {
	g, gctx := errgroup.WithContext(ctx)
	tallies := make([]*tally, len(files))
	for i, path := range files {
		g.Go(func() error {
			ta, err := t.tallyFile(gctx, path)
			if err != nil {
				return err
			}
			tallies[i] = ta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged := newTally()
	for _, ta := range tallies {
		for _, w := range ta.order {
			merged.add(w, ta.counts[w])
		}
	}
	words := make([]Word, 0, len(merged.order))
	for _, w := range merged.order {
		words = append(words, Word{Value: w, Count: merged.counts[w]})
	}

	m, err := trainer.TrainWords(ctx, words)
	if err != nil {
		return err
	}
	t.model.Store(&modelBox{m: m})
	return nil
}

// tally accumulates segment counts preserving first-seen order.
type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (ta *tally) add(w string, n int) {
	if _, ok := ta.counts[w]; !ok {
		ta.order = append(ta.order, w)
	}
	ta.counts[w] += n
}

func (t *Tokenizer) tallyFile(ctx context.Context, path string) (*tally, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCorpusRead, path, err)
	}
	defer f.Close()

	ta := newTally()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, seg := range t.pretokenizer.PreTokenize(t.normalizer.Normalize(sc.Text())) {
			ta.add(seg.Value, 1)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorpusRead, path, err)
	}
	return ta, nil
}
