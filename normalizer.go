package subword

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NFKC compatibility-decomposes and recomposes Unicode text to its
// canonical form. This is the default normalizer.
type NFKC struct{}

func (NFKC) Normalize(text string) string { return norm.NFKC.String(text) }

// NormalizeAligned normalizes one boundary-delimited segment at a time
// so each output byte can be traced to the input segment it came from.
func (NFKC) NormalizeAligned(text string) (string, [][2]int) {
	var sb strings.Builder
	var align [][2]int
	for p := 0; p < len(text); {
		n := norm.NFKC.NextBoundaryInString(text[p:], true)
		if n <= 0 {
			n = len(text) - p
		}
		out := norm.NFKC.String(text[p : p+n])
		sb.WriteString(out)
		for range out {
			align = append(align, [2]int{p, p + n})
		}
		p += n
	}
	return sb.String(), align
}

// Lowercase maps text to lower case using Unicode case folding rules.
type Lowercase struct{}

func (Lowercase) Normalize(text string) string { return strings.ToLower(text) }

func (Lowercase) NormalizeAligned(text string) (string, [][2]int) {
	var sb strings.Builder
	var align [][2]int
	for i, r := range text {
		lo := unicode.ToLower(r)
		sb.WriteRune(lo)
		for k := 0; k < utf8.RuneLen(lo); k++ {
			align = append(align, [2]int{i, i + utf8.RuneLen(r)})
		}
	}
	return sb.String(), align
}

// StripAccents removes combining marks: NFD decomposition, drop Mn
// runes, NFC recomposition.
type StripAccents struct{}

func (StripAccents) Normalize(text string) string {
	out, _, err := transform.String(stripAccentsTransform(), text)
	if err != nil {
		return text
	}
	return out
}

func (StripAccents) NormalizeAligned(text string) (string, [][2]int) {
	t := stripAccentsTransform()
	var sb strings.Builder
	var align [][2]int
	for p := 0; p < len(text); {
		n := norm.NFC.NextBoundaryInString(text[p:], true)
		if n <= 0 {
			n = len(text) - p
		}
		out, _, err := transform.String(t, text[p:p+n])
		if err != nil {
			out = text[p : p+n]
		}
		sb.WriteString(out)
		for range out {
			align = append(align, [2]int{p, p + n})
		}
		p += n
	}
	return sb.String(), align
}

func stripAccentsTransform() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizerSequence applies normalizers in order.
type NormalizerSequence []Normalizer

func (s NormalizerSequence) Normalize(text string) string {
	for _, n := range s {
		text = n.Normalize(text)
	}
	return text
}

// NormalizeAligned composes the stages' alignments. A stage without
// alignment support breaks the chain back to the original text, so the
// sequence then reports no alignment at all.
func (s NormalizerSequence) NormalizeAligned(text string) (string, [][2]int) {
	for _, n := range s {
		if _, ok := n.(AlignedNormalizer); !ok {
			return s.Normalize(text), nil
		}
	}
	align := identityAlign(text)
	for _, n := range s {
		var next [][2]int
		text, next = n.(AlignedNormalizer).NormalizeAligned(text)
		align = composeAlign(align, next)
	}
	return text, align
}

func identityAlign(text string) [][2]int {
	align := make([][2]int, len(text))
	for i := range align {
		align[i] = [2]int{i, i + 1}
	}
	return align
}

// composeAlign resolves next (output byte → intermediate range)
// through prev (intermediate byte → original range).
func composeAlign(prev, next [][2]int) [][2]int {
	out := make([][2]int, len(next))
	for i, sp := range next {
		out[i] = [2]int{prev[sp[0]][0], prev[sp[1]-1][1]}
	}
	return out
}
