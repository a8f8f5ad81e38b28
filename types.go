package subword

import (
	"context"
	"iter"
)

// Token is one sub-word unit produced by a Model. Start and End are
// byte offsets into the text the segment's spans address; a marker
// synthesized by AddPrefixSpace carries a zero-width range.
type Token struct {
	ID    int
	Value string
	Start int
	End   int
}

// Encoding is the flattened result of encoding one input text. The
// three slices are index-aligned; Offsets are byte ranges into the
// original input text.
type Encoding struct {
	IDs     []int
	Tokens  []string
	Offsets [][2]int
}

// Segment is one pre-tokenized unit, typically a word with its leading
// boundary marker. Spans holds, per rune of Value, the byte range of
// the normalized input that rune derives from, so merged tokens can
// report exact offsets.
type Segment struct {
	Value string
	Spans [][2]int
}

// Word is one unique corpus segment and its occurrence count, in
// first-seen corpus order. The order is what makes merge tie-breaking
// reproducible across runs.
type Word struct {
	Value string
	Count int
}

// Normalizer canonicalizes raw input text. It must be applied
// identically on the encode path and the training ingestion path.
type Normalizer interface {
	Normalize(text string) string
}

// AlignedNormalizer is a Normalizer that can also report, for every
// byte of its output, the byte range of its input that byte derives
// from. The Tokenizer uses the alignment to map token offsets back to
// the original text; a Normalizer without it yields offsets into the
// normalized text instead.
type AlignedNormalizer interface {
	Normalizer
	NormalizeAligned(text string) (string, [][2]int)
}

// PreTokenizer splits normalized text into segments and marks word
// boundaries so the Decoder can invert the transformation.
type PreTokenizer interface {
	PreTokenize(text string) []Segment
}

// Model maps segments to token ids and back.
type Model interface {
	// EncodeSegment merges the segment's rune-level symbols per the
	// model's merge rules and maps the result to ids. Symbols absent
	// from the vocabulary become the unknown token.
	EncodeSegment(seg Segment) ([]Token, error)
	TokenToID(token string) (int, bool)
	IDToToken(id int) (string, bool)
	// IsSpecial reports whether id belongs to a reserved special token.
	IsSpecial(id int) bool
}

// Decoder reassembles decoded token strings into human-readable text,
// inverting the PreTokenizer's marker substitution.
type Decoder interface {
	Decode(tokens []string) string
}

// ModelTrainer derives a new Model from a tallied training corpus.
// Implementations must be deterministic for identical input.
type ModelTrainer interface {
	TrainWords(ctx context.Context, words []Word) (Model, error)
}

// Segments adapts a slice to the lazy segment stream the bpe trainer
// consumes directly.
func Segments(values []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, v := range values {
			if !yield(v) {
				return
			}
		}
	}
}
