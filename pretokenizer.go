package subword

import (
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// DefaultReplacement is the metaspace boundary marker ("lower one
// eighth block", the character SentencePiece made famous).
const DefaultReplacement = "▁"

// Metaspace splits normalized text on whitespace boundaries and
// replaces each whitespace run with the Replacement marker attached to
// the start of the following segment. With AddPrefixSpace a marker is
// synthesized before the first segment even when the text does not
// start with whitespace, so word-start is always recoverable.
type Metaspace struct {
	Replacement    string
	AddPrefixSpace bool
}

// NewMetaspace returns a Metaspace with the defaults: "▁" marker and
// prefix space enabled.
func NewMetaspace() Metaspace {
	return Metaspace{Replacement: DefaultReplacement, AddPrefixSpace: true}
}

func (m Metaspace) replacement() string {
	if m.Replacement == "" {
		return DefaultReplacement
	}
	return m.Replacement
}

func (m Metaspace) PreTokenize(text string) []Segment {
	if text == "" {
		return nil
	}
	repl := m.replacement()

	var segs []Segment
	var cur Segment
	flush := func() {
		if cur.Value != "" {
			segs = append(segs, cur)
			cur = Segment{}
		}
	}
	appendMarker := func(span [2]int) {
		for range repl {
			cur.Spans = append(cur.Spans, span)
		}
		cur.Value += repl
	}

	first, _ := utf8.DecodeRuneInString(text)
	pending := m.AddPrefixSpace && !unicode.IsSpace(first)
	markerSpan := [2]int{0, 0}

	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			flush()
			runStart := i
			for i < len(text) {
				r, size = utf8.DecodeRuneInString(text[i:])
				if !unicode.IsSpace(r) {
					break
				}
				i += size
			}
			pending = true
			markerSpan = [2]int{runStart, i}
			continue
		}
		if pending {
			appendMarker(markerSpan)
			pending = false
		}
		cur.Value += text[i : i+size]
		cur.Spans = append(cur.Spans, [2]int{i, i + size})
		i += size
	}
	if pending {
		// trailing whitespace run becomes a bare marker segment
		appendMarker(markerSpan)
	}
	flush()
	return segs
}

// Pattern is a regex pre-tokenizer: one segment per match of the
// expression, no marker substitution. It exists to prove the stage is
// swappable (byte-level BPE splitters are regex-driven) and is not part
// of the default pipeline.
type Pattern struct {
	re *regexp2.Regexp
}

func NewPattern(expr string) (*Pattern, error) {
	re, err := regexp2.Compile(expr, regexp2.Unicode|regexp2.RE2)
	if err != nil {
		return nil, err
	}
	return &Pattern{re: re}, nil
}

func (p *Pattern) PreTokenize(text string) []Segment {
	// regexp2 reports match positions in runes; precompute the byte
	// offset of every rune so Spans stay byte-addressed.
	starts := make([]int, 0, len(text)+1)
	for i := range text {
		starts = append(starts, i)
	}
	starts = append(starts, len(text))

	var segs []Segment
	for match, _ := p.re.FindStringMatch(text); match != nil; match, _ = p.re.FindNextMatch(match) {
		value := match.String()
		seg := Segment{Value: value, Spans: make([][2]int, 0, match.Length)}
		for k := 0; k < match.Length; k++ {
			seg.Spans = append(seg.Spans, [2]int{starts[match.Index+k], starts[match.Index+k+1]})
		}
		segs = append(segs, seg)
	}
	return segs
}
