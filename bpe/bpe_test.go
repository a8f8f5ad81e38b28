package bpe

import (
	"errors"
	"strings"
	"testing"

	subword "github.com/subwordlab/subword-go"
)

// vocabOf builds a dense vocabulary from tokens in id order.
func vocabOf(tokens ...string) map[string]int {
	v := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		v[tok] = i
	}
	return v
}

func seg(value string) subword.Segment {
	spans := make([][2]int, 0, len(value))
	for i, r := range value {
		spans = append(spans, [2]int{i, i + len(string(r))})
	}
	return subword.Segment{Value: value, Spans: spans}
}

func mustModel(t *testing.T, vocab map[string]int, merges []Merge, opts *ModelOptions) *Model {
	t.Helper()
	m, err := New(vocab, merges, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func encodeValues(t *testing.T, m *Model, s string) []string {
	t.Helper()
	toks, err := m.EncodeSegment(seg(s))
	if err != nil {
		t.Fatalf("EncodeSegment(%q): %v", s, err)
	}
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		out = append(out, tok.Value)
	}
	return out
}

func TestVocabularyBijection(t *testing.T) {
	m := mustModel(t, vocabOf("<unk>", "a", "b", "ab"), []Merge{{"a", "b"}}, nil)
	for id := 0; id < m.VocabSize(); id++ {
		tok, ok := m.IDToToken(id)
		if !ok {
			t.Fatalf("IDToToken(%d) missing", id)
		}
		back, ok := m.TokenToID(tok)
		if !ok || back != id {
			t.Fatalf("TokenToID(IDToToken(%d)) = %d, %v", id, back, ok)
		}
	}
	if _, ok := m.IDToToken(99); ok {
		t.Fatal("expected out-of-range id to be absent")
	}
	if _, ok := m.TokenToID("zz"); ok {
		t.Fatal("expected unknown token to be absent")
	}
}

func TestMergePriorityOrder(t *testing.T) {
	// (a,b) outranks (b,c): "abc" must become [ab c], never [a bc].
	m := mustModel(t,
		vocabOf("<unk>", "a", "b", "c", "ab", "bc"),
		[]Merge{{"a", "b"}, {"b", "c"}},
		nil)
	got := encodeValues(t, m, "abc")
	want := []string{"ab", "c"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("encode(abc) = %v, want %v", got, want)
	}

	// flipped priority flips the result
	m = mustModel(t,
		vocabOf("<unk>", "a", "b", "c", "ab", "bc"),
		[]Merge{{"b", "c"}, {"a", "b"}},
		nil)
	got = encodeValues(t, m, "abc")
	want = []string{"a", "bc"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("encode(abc) = %v, want %v", got, want)
	}
}

func TestMergeConfluenceOnOverlaps(t *testing.T) {
	// A single rule (a,a) over runs of a's: the greedy leftmost-first
	// result is unique regardless of scan order.
	m := mustModel(t,
		vocabOf("<unk>", "a", "aa"),
		[]Merge{{"a", "a"}},
		nil)
	cases := []struct {
		in   string
		want string
	}{
		{"aa", "aa"},
		{"aaa", "aa|a"},
		{"aaaa", "aa|aa"},
		{"aaaaa", "aa|aa|a"},
	}
	for _, tc := range cases {
		got := strings.Join(encodeValues(t, m, tc.in), "|")
		if got != tc.want {
			t.Fatalf("encode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	// chained rules keep merging the leftmost highest-priority pair
	m = mustModel(t,
		vocabOf("<unk>", "a", "aa", "aaaa"),
		[]Merge{{"a", "a"}, {"aa", "aa"}},
		nil)
	got := strings.Join(encodeValues(t, m, "aaaaaa"), "|")
	if got != "aaaa|aa" {
		t.Fatalf("encode(aaaaaa) = %q, want %q", got, "aaaa|aa")
	}
}

func TestEncodeDeterministicWithoutDropout(t *testing.T) {
	m := mustModel(t,
		vocabOf("<unk>", "l", "o", "w", "e", "r", "lo", "low", "er", "lower"),
		[]Merge{{"l", "o"}, {"lo", "w"}, {"e", "r"}, {"low", "er"}},
		nil)
	first, err := m.EncodeSegment(seg("lower"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		again, err := m.EncodeSegment(seg("lower"))
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d: length %d vs %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("run %d: token %d = %+v, want %+v", i, j, again[j], first[j])
			}
		}
	}
	if len(first) != 1 || first[0].Value != "lower" {
		t.Fatalf("expected full merge to %q, got %+v", "lower", first)
	}
}

func TestEncodeUnknownSymbolSubstitutes(t *testing.T) {
	m := mustModel(t,
		vocabOf("<unk>", "a", "b", "ab"),
		[]Merge{{"a", "b"}},
		nil)
	toks, err := m.EncodeSegment(seg("axb"))
	if err != nil {
		t.Fatalf("unknown symbol must not error: %v", err)
	}
	unkID, _ := m.TokenToID("<unk>")
	if len(toks) != 3 || toks[1].ID != unkID {
		t.Fatalf("expected [a <unk> b] ids, got %+v", toks)
	}
	// the unmapped symbol keeps its surface form and offsets
	if toks[1].Value != "x" || toks[1].Start != 1 || toks[1].End != 2 {
		t.Fatalf("unk token lost surface info: %+v", toks[1])
	}
}

func TestEncodeFailsWhenUnkUnmapped(t *testing.T) {
	m := mustModel(t, vocabOf("a"), nil, nil) // no <unk> entry
	if _, err := m.EncodeSegment(seg("ab")); !errors.Is(err, ErrUnknownUnmapped) {
		t.Fatalf("err = %v, want ErrUnknownUnmapped", err)
	}
	if _, err := Empty().EncodeSegment(seg("a")); !errors.Is(err, ErrUnknownUnmapped) {
		t.Fatalf("empty model err = %v, want ErrUnknownUnmapped", err)
	}
}

func TestEncodeOffsets(t *testing.T) {
	m := mustModel(t,
		vocabOf("<unk>", "l", "o", "w", "lo", "low"),
		[]Merge{{"l", "o"}, {"lo", "w"}},
		nil)
	toks, err := m.EncodeSegment(seg("low"))
	if err != nil {
		t.Fatal(err)
	}
	if len(toks) != 1 {
		t.Fatalf("expected one token, got %+v", toks)
	}
	if toks[0].Start != 0 || toks[0].End != 3 {
		t.Fatalf("merged offsets = [%d,%d), want [0,3)", toks[0].Start, toks[0].End)
	}
}

func TestEncodeDropout(t *testing.T) {
	vocab := vocabOf("<unk>", "a", "b", "ab")
	merges := []Merge{{"a", "b"}}

	if _, err := New(vocab, merges, &ModelOptions{Dropout: 1}); !errors.Is(err, ErrMalformedModel) {
		t.Fatal("dropout = 1 must be rejected")
	}
	if _, err := New(vocab, merges, &ModelOptions{Dropout: -0.1}); !errors.Is(err, ErrMalformedModel) {
		t.Fatal("negative dropout must be rejected")
	}

	m := mustModel(t, vocab, merges, &ModelOptions{Dropout: 0.5})
	sawMerged, sawSplit := false, false
	for i := 0; i < 200 && !(sawMerged && sawSplit); i++ {
		got := encodeValues(t, m, "ab")
		switch strings.Join(got, "|") {
		case "ab":
			sawMerged = true
		case "a|b":
			sawSplit = true
		default:
			t.Fatalf("unexpected encoding %v", got)
		}
	}
	if !sawMerged || !sawSplit {
		t.Fatalf("dropout 0.5 should produce both outcomes (merged=%v split=%v)", sawMerged, sawSplit)
	}
}

func TestNewRejectsInconsistentVocab(t *testing.T) {
	cases := []struct {
		name   string
		vocab  map[string]int
		merges []Merge
	}{
		{"duplicate id", map[string]int{"a": 0, "b": 0}, nil},
		{"negative id", map[string]int{"a": -1}, nil},
		{"empty token", map[string]int{"": 0}, nil},
		{"merge left missing", vocabOf("<unk>", "b", "ab"), []Merge{{"a", "b"}}},
		{"merge right missing", vocabOf("<unk>", "a", "ab"), []Merge{{"a", "b"}}},
		{"merge result missing", vocabOf("<unk>", "a", "b"), []Merge{{"a", "b"}}},
		{"merge produces special", vocabOf("ab", "a", "b"), []Merge{{"a", "b"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := &ModelOptions{}
			if tc.name == "merge produces special" {
				opts = &ModelOptions{UnkToken: "ab"}
			}
			if _, err := New(tc.vocab, tc.merges, opts); !errors.Is(err, ErrMalformedModel) {
				t.Fatalf("err = %v, want ErrMalformedModel", err)
			}
		})
	}
}

func TestVocabGapIsNotFatal(t *testing.T) {
	m, err := New(map[string]int{"<unk>": 0, "a": 1, "b": 5}, nil, nil)
	if err != nil {
		t.Fatalf("gapped ids must load: %v", err)
	}
	if _, ok := m.IDToToken(3); ok {
		t.Fatal("gap id must be absent")
	}
	if tok, ok := m.IDToToken(5); !ok || tok != "b" {
		t.Fatalf("IDToToken(5) = %q, %v", tok, ok)
	}
}

func TestIsSpecial(t *testing.T) {
	m := mustModel(t, vocabOf("<unk>", "<pad>", "a"), nil,
		&ModelOptions{SpecialTokens: []string{"<unk>", "<pad>"}})
	for id, want := range map[int]bool{0: true, 1: true, 2: false} {
		if got := m.IsSpecial(id); got != want {
			t.Fatalf("IsSpecial(%d) = %v, want %v", id, got, want)
		}
	}
}
