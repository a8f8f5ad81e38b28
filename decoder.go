package subword

import "strings"

// MetaspaceDecoder is the exact left inverse of the Metaspace
// pre-tokenizer: every marker occurrence becomes a single space, and
// the synthesized prefix marker at string start is dropped when
// AddPrefixSpace is set.
type MetaspaceDecoder struct {
	Replacement    string
	AddPrefixSpace bool
}

// NewMetaspaceDecoder returns the decoder matching NewMetaspace.
func NewMetaspaceDecoder() MetaspaceDecoder {
	return MetaspaceDecoder{Replacement: DefaultReplacement, AddPrefixSpace: true}
}

func (d MetaspaceDecoder) Decode(tokens []string) string {
	repl := d.Replacement
	if repl == "" {
		repl = DefaultReplacement
	}
	out := strings.ReplaceAll(strings.Join(tokens, ""), repl, " ")
	if d.AddPrefixSpace {
		out = strings.TrimPrefix(out, " ")
	}
	return out
}
