// Package bpe implements the byte-pair-encoding core: an immutable
// vocabulary + merge-rule model, a file loader, and a trainer that
// learns merge rules from segment counts.
package bpe

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	subword "github.com/subwordlab/subword-go"
)

var (
	// ErrMalformedModel reports bad vocab/merges syntax or an
	// inconsistent vocabulary. No partial model is ever constructed.
	ErrMalformedModel = errors.New("malformed model file")
	// ErrUnknownUnmapped reports the construction-time invariant
	// violation of an unknown symbol with no unk token to fall back to.
	ErrUnknownUnmapped = errors.New("unknown token missing from vocabulary")
)

// DefaultUnkToken is substituted for symbols absent from the
// vocabulary.
const DefaultUnkToken = "<unk>"

// Merge is one learned pair rewrite. Position in the merge list is
// priority: lower index merges first.
type Merge struct {
	Left  string
	Right string
}

type mergePair struct{ left, right string }

// ModelOptions configures model construction.
//
//	UnkToken:      token substituted for unmapped symbols. Default "<unk>".
//	SpecialTokens: reserved tokens excluded from merges. Default [UnkToken].
//	Dropout:       probability in [0,1) of skipping an applicable merge
//	               during encoding. Default 0 (deterministic); training-time
//	               regularization only, never enable for inference.
type ModelOptions struct {
	UnkToken      string
	SpecialTokens []string
	Dropout       float64
}

func (o *ModelOptions) withDefaults() ModelOptions {
	var out ModelOptions
	if o != nil {
		out = *o
	}
	if out.UnkToken == "" {
		out.UnkToken = DefaultUnkToken
	}
	if len(out.SpecialTokens) == 0 {
		out.SpecialTokens = []string{out.UnkToken}
	}
	return out
}

// Model holds an immutable bijective vocabulary and an ordered merge
// rule list. A Model is safe for concurrent use.
type Model struct {
	vocab   map[string]int
	rev     []string
	merges  []Merge
	ranks   map[mergePair]int
	special map[int]struct{}
	unk     string
	unkID   int // -1 when the unk token is not in the vocabulary
	dropout float64
}

// Empty returns a model with no vocabulary and no merges. It is valid
// only as a trainer target; encoding through it fails with
// ErrUnknownUnmapped.
func Empty() *Model {
	m, _ := New(nil, nil, nil)
	return m
}

// New builds a model from a token→id table and an ordered merge list.
// Ids must be unique and non-negative; each merge's left, right and
// concatenated symbols must already exist in the vocabulary, and a
// merge may not produce a special token. Id gaps are tolerated with a
// warning so partially reserved id spaces still load.
func New(vocab map[string]int, merges []Merge, opts *ModelOptions) (*Model, error) {
	o := opts.withDefaults()
	if o.Dropout < 0 || o.Dropout >= 1 {
		return nil, fmt.Errorf("%w: dropout %v outside [0,1)", ErrMalformedModel, o.Dropout)
	}

	maxID := -1
	for tok, id := range vocab {
		if tok == "" {
			return nil, fmt.Errorf("%w: empty token for id %d", ErrMalformedModel, id)
		}
		if id < 0 {
			return nil, fmt.Errorf("%w: negative id %d for token %q", ErrMalformedModel, id, tok)
		}
		if id > maxID {
			maxID = id
		}
	}
	rev := make([]string, maxID+1)
	for tok, id := range vocab {
		if rev[id] != "" {
			return nil, fmt.Errorf("%w: duplicate id %d for tokens %q and %q", ErrMalformedModel, id, rev[id], tok)
		}
		rev[id] = tok
	}
	if gaps := len(rev) - len(vocab); gaps > 0 {
		slog.Warn("vocabulary ids are not dense", "size", len(vocab), "gaps", gaps)
	}

	specialSet := make(map[int]struct{}, len(o.SpecialTokens))
	for _, tok := range o.SpecialTokens {
		if id, ok := vocab[tok]; ok {
			specialSet[id] = struct{}{}
		}
	}

	m := &Model{
		vocab:   make(map[string]int, len(vocab)),
		rev:     rev,
		merges:  make([]Merge, len(merges)),
		ranks:   make(map[mergePair]int, len(merges)),
		special: specialSet,
		unk:     o.UnkToken,
		unkID:   -1,
		dropout: o.Dropout,
	}
	for tok, id := range vocab {
		m.vocab[tok] = id
	}
	copy(m.merges, merges)
	if id, ok := m.vocab[o.UnkToken]; ok {
		m.unkID = id
	}

	for i, mg := range merges {
		if _, ok := m.vocab[mg.Left]; !ok {
			return nil, fmt.Errorf("%w: merge %d left symbol %q not in vocabulary", ErrMalformedModel, i, mg.Left)
		}
		if _, ok := m.vocab[mg.Right]; !ok {
			return nil, fmt.Errorf("%w: merge %d right symbol %q not in vocabulary", ErrMalformedModel, i, mg.Right)
		}
		joined := mg.Left + mg.Right
		id, ok := m.vocab[joined]
		if !ok {
			return nil, fmt.Errorf("%w: merge %d result %q not in vocabulary", ErrMalformedModel, i, joined)
		}
		if _, special := specialSet[id]; special {
			return nil, fmt.Errorf("%w: merge %d produces special token %q", ErrMalformedModel, i, joined)
		}
		p := mergePair{mg.Left, mg.Right}
		if _, dup := m.ranks[p]; !dup {
			m.ranks[p] = i
		}
	}
	return m, nil
}

// TokenToID looks up a token string. O(1).
func (m *Model) TokenToID(token string) (int, bool) {
	id, ok := m.vocab[token]
	return id, ok
}

// IDToToken looks up a token id. O(1).
func (m *Model) IDToToken(id int) (string, bool) {
	if id < 0 || id >= len(m.rev) || m.rev[id] == "" {
		return "", false
	}
	return m.rev[id], true
}

// IsSpecial reports whether id is a reserved special token.
func (m *Model) IsSpecial(id int) bool {
	_, ok := m.special[id]
	return ok
}

// VocabSize returns the number of entries in the vocabulary.
func (m *Model) VocabSize() int { return len(m.vocab) }

// Merges returns a copy of the ordered merge rule list.
func (m *Model) Merges() []Merge {
	out := make([]Merge, len(m.merges))
	copy(out, m.merges)
	return out
}

// UnkToken returns the configured unknown token.
func (m *Model) UnkToken() string { return m.unk }

// symbol is a node in the doubly-linked symbol sequence mutated during
// encoding. A symbol with empty text has been absorbed by a merge.
type symbol struct {
	prev, next int
	text       string
	start, end int
}

// candidate is an adjacent pair occurrence eligible for merging.
type candidate struct {
	a, b  int
	rank  int
	value string
}

// EncodeSegment initializes the symbol sequence at rune level and
// repeatedly applies the highest-priority merge rule present among
// adjacent pairs, leftmost occurrence first, until no rule applies.
// Final symbols map to ids; symbols absent from the vocabulary map to
// the unk id. Fails with ErrUnknownUnmapped only when the unk token
// itself is also absent.
func (m *Model) EncodeSegment(seg subword.Segment) ([]subword.Token, error) {
	if seg.Value == "" {
		return nil, nil
	}

	syms := make([]symbol, 0, len(seg.Value))
	for _, c := range seg.Value {
		i := len(syms)
		span := [2]int{0, 0}
		if i < len(seg.Spans) {
			span = seg.Spans[i]
		}
		syms = append(syms, symbol{
			prev:  i - 1,
			next:  i + 1,
			text:  string(c),
			start: span[0],
			end:   span[1],
		})
	}

	pairwise := func(a, b int) *candidate {
		if a < 0 || b >= len(syms) {
			return nil
		}
		left, right := syms[a].text, syms[b].text
		if left == "" || right == "" {
			return nil
		}
		rank, ok := m.ranks[mergePair{left, right}]
		if !ok {
			return nil
		}
		return &candidate{a: a, b: b, rank: rank, value: left + right}
	}

	pairs := heap.NewWith(func(x, y *candidate) int {
		if c := cmp.Compare(x.rank, y.rank); c != 0 {
			return c
		}
		return cmp.Compare(x.a, y.a)
	})
	for j := 0; j+1 < len(syms); j++ {
		if cand := pairwise(j, j+1); cand != nil {
			pairs.Push(cand)
		}
	}

	for !pairs.Empty() {
		cand, _ := pairs.Pop()
		left, right := syms[cand.a], syms[cand.b]
		if left.text == "" || right.text == "" || left.text+right.text != cand.value {
			continue // stale: one side was merged away since the push
		}
		if m.dropout > 0 && rand.Float64() < m.dropout {
			continue
		}

		syms[cand.a].text = cand.value
		syms[cand.a].end = right.end
		syms[cand.b].text = ""
		syms[cand.a].next = right.next
		if right.next < len(syms) {
			syms[right.next].prev = cand.a
		}

		if next := pairwise(syms[cand.a].prev, cand.a); next != nil {
			pairs.Push(next)
		}
		if next := pairwise(cand.a, syms[cand.a].next); next != nil {
			pairs.Push(next)
		}
	}

	var out []subword.Token
	for j := 0; j < len(syms); j = syms[j].next {
		if syms[j].text == "" {
			continue
		}
		id, ok := m.vocab[syms[j].text]
		if !ok {
			if m.unkID < 0 {
				return nil, fmt.Errorf("%w: symbol %q has no mapping and unk token %q is absent",
					ErrUnknownUnmapped, syms[j].text, m.unk)
			}
			id = m.unkID
		}
		out = append(out, subword.Token{
			ID:    id,
			Value: syms[j].text,
			Start: syms[j].start,
			End:   syms[j].end,
		})
	}
	return out, nil
}
