// Package subword provides a SentencePiece-style byte-pair-encoding
// tokenizer as a pipeline of pluggable stages.
//
// Raw text flows through a Normalizer (Unicode canonicalization), a
// PreTokenizer (metaspace word segmentation), and a Model (greedy
// merge-rule BPE) to produce token ids; ids flow back through the
// Model and a Decoder to reconstruct text. A Trainer can derive a new
// vocabulary and merge-rule list from plain-text corpora and replace
// the Tokenizer's model atomically while other goroutines keep
// encoding against the previous snapshot.
//
// The heavy machinery (model, loader, trainer) lives in the bpe
// subpackage; this package owns the stage interfaces and the
// orchestration.
package subword
