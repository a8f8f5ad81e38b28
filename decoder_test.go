package subword

import "testing"

func TestMetaspaceDecoderBasic(t *testing.T) {
	d := NewMetaspaceDecoder()
	if got := d.Decode([]string{"▁Hello", "▁world"}); got != "Hello world" {
		t.Fatalf("Decode = %q", got)
	}
}

func TestMetaspaceDecoderSplitTokens(t *testing.T) {
	// markers can land mid token stream after BPE splits a segment
	d := NewMetaspaceDecoder()
	if got := d.Decode([]string{"▁Hel", "lo", "▁wor", "ld"}); got != "Hello world" {
		t.Fatalf("Decode = %q", got)
	}
}

func TestMetaspaceDecoderKeepsLeadingSpace(t *testing.T) {
	d := MetaspaceDecoder{Replacement: DefaultReplacement}
	if got := d.Decode([]string{"▁a"}); got != " a" {
		t.Fatalf("Decode = %q, want %q", got, " a")
	}
}

func TestMetaspaceDecoderCustomReplacement(t *testing.T) {
	d := MetaspaceDecoder{Replacement: "_", AddPrefixSpace: true}
	if got := d.Decode([]string{"_a", "_b"}); got != "a b" {
		t.Fatalf("Decode = %q", got)
	}
}

func TestMetaspaceDecoderEmpty(t *testing.T) {
	d := NewMetaspaceDecoder()
	if got := d.Decode(nil); got != "" {
		t.Fatalf("Decode(nil) = %q", got)
	}
}

func TestMetaspaceRoundTrip(t *testing.T) {
	m := NewMetaspace()
	d := NewMetaspaceDecoder()
	for _, text := range []string{
		"hello world",
		"one two three four",
		"single",
		"héllo wörld",
	} {
		var toks []string
		for _, seg := range m.PreTokenize(text) {
			toks = append(toks, seg.Value)
		}
		if got := d.Decode(toks); got != text {
			t.Errorf("round trip of %q = %q", text, got)
		}
	}
}
