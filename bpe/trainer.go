package bpe

import (
	"cmp"
	"context"
	"iter"
	"log/slog"
	"sort"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	subword "github.com/subwordlab/subword-go"
)

// TrainerOptions configures vocabulary learning.
//
//	VocabSize:       target vocabulary cardinality (stop condition). Default 30000.
//	MinFrequency:    a pair below this count is never merged. The zero
//	                 value selects the default of 2; pass 1 (or less)
//	                 to disable the threshold, since observed pair
//	                 counts are never below 1.
//	LimitAlphabet:   cap on distinct base symbols; least frequent excess
//	                 symbols are dropped. 0 means unlimited.
//	InitialAlphabet: symbols force-included regardless of frequency.
//	SpecialTokens:   reserved the lowest ids, before any learned token.
//	                 Default [UnkToken]; UnkToken is always included.
//	UnkToken:        unknown token of the resulting model. Default "<unk>".
//	Dropout:         dropout carried onto the resulting model, for
//	                 regularization experiments. Default 0.
//	ShowProgress:    emit slog progress lines. No semantic effect.
type TrainerOptions struct {
	VocabSize       int
	MinFrequency    int
	LimitAlphabet   int
	InitialAlphabet []string
	SpecialTokens   []string
	UnkToken        string
	Dropout         float64
	ShowProgress    bool
}

func (o *TrainerOptions) withDefaults() TrainerOptions {
	var out TrainerOptions
	if o != nil {
		out = *o
	}
	if out.VocabSize == 0 {
		out.VocabSize = 30000
	}
	if out.MinFrequency == 0 {
		out.MinFrequency = 2
	}
	if out.UnkToken == "" {
		out.UnkToken = DefaultUnkToken
	}
	hasUnk := false
	for _, s := range out.SpecialTokens {
		if s == out.UnkToken {
			hasUnk = true
		}
	}
	if !hasUnk {
		out.SpecialTokens = append([]string{out.UnkToken}, out.SpecialTokens...)
	}
	return out
}

// Trainer derives a vocabulary and merge-rule list from a training
// corpus by iteratively merging the most frequent adjacent symbol
// pair. Identical input always yields the identical merge list: ties
// on frequency break on first-seen corpus order.
type Trainer struct {
	opts TrainerOptions
}

func NewTrainer(opts *TrainerOptions) *Trainer {
	return &Trainer{opts: opts.withDefaults()}
}

// Train consumes a lazy stream of pre-tokenized segments, tallies
// them, and learns a model.
func (tr *Trainer) Train(ctx context.Context, segments iter.Seq[string]) (*Model, error) {
	var (
		order  []string
		counts = make(map[string]int)
	)
	for seg := range segments {
		if _, ok := counts[seg]; !ok {
			order = append(order, seg)
		}
		counts[seg]++
	}
	words := make([]subword.Word, 0, len(order))
	for _, w := range order {
		words = append(words, subword.Word{Value: w, Count: counts[w]})
	}
	return tr.train(ctx, words)
}

// TrainWords learns a model from an already-tallied corpus, words in
// first-seen order. It satisfies subword.ModelTrainer.
func (tr *Trainer) TrainWords(ctx context.Context, words []subword.Word) (subword.Model, error) {
	m, err := tr.train(ctx, words)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// pairCand is a heap entry; count is a snapshot that gets revalidated
// against the live tally on pop.
type pairCand struct {
	p     mergePair
	count int
	seen  int
}

type pairStat struct {
	count int
	seen  int
	words map[int]struct{}
}

func (tr *Trainer) train(ctx context.Context, words []subword.Word) (*Model, error) {
	o := tr.opts
	if o.ShowProgress {
		slog.Info("bpe training started", "words", len(words), "vocab_size", o.VocabSize)
	}

	alphabet := tr.buildAlphabet(words)
	keep := make(map[string]struct{}, len(alphabet))
	for _, s := range alphabet {
		keep[s] = struct{}{}
	}

	// id order: specials, then the sorted base alphabet, then one token
	// per learned merge.
	vocab := make(map[string]int)
	for _, s := range o.SpecialTokens {
		if _, ok := vocab[s]; !ok {
			vocab[s] = len(vocab)
		}
	}
	for _, s := range alphabet {
		if _, ok := vocab[s]; !ok {
			vocab[s] = len(vocab)
		}
	}

	// split words into symbol sequences over the admitted alphabet
	seqs := make([][]string, len(words))
	for i, w := range words {
		var syms []string
		for _, r := range w.Value {
			s := string(r)
			if _, ok := keep[s]; ok {
				syms = append(syms, s)
			}
		}
		seqs[i] = syms
	}

	stats := make(map[mergePair]*pairStat)
	seen := 0
	pq := heap.NewWith(func(x, y *pairCand) int {
		if c := cmp.Compare(y.count, x.count); c != 0 {
			return c
		}
		return cmp.Compare(x.seen, y.seen)
	})
	add := func(p mergePair, wi, delta int) {
		st, ok := stats[p]
		if !ok {
			if delta <= 0 {
				return
			}
			st = &pairStat{seen: seen, words: make(map[int]struct{})}
			seen++
			stats[p] = st
		}
		st.count += delta
		if delta > 0 {
			st.words[wi] = struct{}{}
			pq.Push(&pairCand{p: p, count: st.count, seen: st.seen})
		}
	}
	for wi, syms := range seqs {
		for j := 0; j+1 < len(syms); j++ {
			add(mergePair{syms[j], syms[j+1]}, wi, words[wi].Count)
		}
	}

	var merges []Merge
	for len(vocab) < o.VocabSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cand := tr.popBest(pq, stats)
		if cand == nil || cand.count < o.MinFrequency {
			break
		}
		p := cand.p
		newTok := p.left + p.right
		if _, ok := vocab[newTok]; !ok {
			vocab[newTok] = len(vocab)
		}
		merges = append(merges, Merge{Left: p.left, Right: p.right})

		// rewrite every word containing the pair, adjusting adjacent
		// pair counts incrementally; word order is sorted so first-seen
		// ranks of newly created pairs stay reproducible
		idxs := make([]int, 0, len(stats[p].words))
		for wi := range stats[p].words {
			idxs = append(idxs, wi)
		}
		sort.Ints(idxs)
		for _, wi := range idxs {
			seqs[wi] = mergeWord(seqs[wi], p, newTok, wi, words[wi].Count, add)
		}
		delete(stats, p)

		if o.ShowProgress && len(merges)%500 == 0 {
			slog.Info("bpe training progress", "merges", len(merges), "vocab", len(vocab))
		}
	}

	if o.ShowProgress {
		slog.Info("bpe training done", "merges", len(merges), "vocab", len(vocab))
	}
	return New(vocab, merges, &ModelOptions{
		UnkToken:      o.UnkToken,
		SpecialTokens: o.SpecialTokens,
		Dropout:       o.Dropout,
	})
}

// popBest pops entries until one matches the live tally, re-pushing
// stale snapshots with their current count.
func (tr *Trainer) popBest(pq *heap.Heap[*pairCand], stats map[mergePair]*pairStat) *pairCand {
	for !pq.Empty() {
		cand, _ := pq.Pop()
		st, ok := stats[cand.p]
		if !ok || st.count <= 0 {
			continue
		}
		if st.count != cand.count {
			pq.Push(&pairCand{p: cand.p, count: st.count, seen: st.seen})
			continue
		}
		return cand
	}
	return nil
}

// buildAlphabet seeds the base alphabet from observed symbols,
// truncated per LimitAlphabet and augmented per InitialAlphabet, and
// returns it sorted for stable id assignment.
func (tr *Trainer) buildAlphabet(words []subword.Word) []string {
	o := tr.opts
	counts := make(map[string]int)
	rank := make(map[string]int)
	for _, w := range words {
		for _, r := range w.Value {
			s := string(r)
			if _, ok := counts[s]; !ok {
				rank[s] = len(rank)
			}
			counts[s] += w.Count
		}
	}

	forced := make(map[string]struct{}, len(o.InitialAlphabet))
	for _, s := range o.InitialAlphabet {
		forced[s] = struct{}{}
		if _, ok := counts[s]; !ok {
			counts[s] = 0
			rank[s] = len(rank)
		}
	}

	symbols := make([]string, 0, len(counts))
	for s := range counts {
		symbols = append(symbols, s)
	}
	if o.LimitAlphabet > 0 && len(symbols) > o.LimitAlphabet {
		// drop the least frequent non-forced symbols
		sort.Slice(symbols, func(i, j int) bool {
			si, sj := symbols[i], symbols[j]
			_, fi := forced[si]
			_, fj := forced[sj]
			if fi != fj {
				return fi
			}
			if counts[si] != counts[sj] {
				return counts[si] > counts[sj]
			}
			return rank[si] < rank[sj]
		})
		symbols = symbols[:o.LimitAlphabet]
	}
	sort.Strings(symbols)
	return symbols
}

// mergeWord replaces non-overlapping occurrences of p in syms, leftmost
// first, with newTok, reporting pair-count deltas through add.
func mergeWord(syms []string, p mergePair, newTok string, wi, wcount int, add func(mergePair, int, int)) []string {
	out := make([]string, 0, len(syms))
	j := 0
	for j < len(syms) {
		if j+1 < len(syms) && syms[j] == p.left && syms[j+1] == p.right {
			if len(out) > 0 {
				prev := out[len(out)-1]
				add(mergePair{prev, p.left}, wi, -wcount)
				add(mergePair{prev, newTok}, wi, wcount)
			}
			if j+2 < len(syms) {
				next := syms[j+2]
				add(mergePair{p.right, next}, wi, -wcount)
				add(mergePair{newTok, next}, wi, wcount)
			}
			add(p, wi, -wcount)
			out = append(out, newTok)
			j += 2
		} else {
			out = append(out, syms[j])
			j++
		}
	}
	return out
}
