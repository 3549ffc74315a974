package dataio

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/comfforts/logger"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// FilterSeed seeds the random sampling of a Filter call. Every call starts
// from this seed, so equal inputs always give equal outputs.
const FilterSeed = 1

// FilterOptions limits the types (distinct labels) and tokens (entries) of
// a dataset. A zero or negative value leaves that limit off.
type FilterOptions struct {
	MinTokensPerType int
	MaxTypes         int
	MaxTokens        int
	MaxTokensPerType int
}

// FilterStats describes a filtered dataset.
type FilterStats struct {
	Types  int
	Tokens int
}

// Stage is one step of the filter pipeline. Apply must not modify its
// input; it returns the retained entries as a new dataset.
type Stage interface {
	Name() string
	Apply(ds Dataset, rng *rand.Rand) Dataset
}

// Stages returns the pipeline for opts. The order is fixed: max types, max
// tokens, min tokens per type, max tokens per type. Each stage sees the
// output of the previous one, so a later stage can shrink the type set an
// earlier stage settled on.
func Stages(opts FilterOptions) []Stage {
	var stages []Stage
	if opts.MaxTypes > 0 {
		stages = append(stages, maxTypesStage(opts.MaxTypes))
	}
	if opts.MaxTokens > 0 {
		stages = append(stages, maxTokensStage(opts.MaxTokens))
	}
	if opts.MinTokensPerType > 0 {
		stages = append(stages, minTokensPerTypeStage(opts.MinTokensPerType))
	}
	if opts.MaxTokensPerType > 0 {
		stages = append(stages, maxTokensPerTypeStage(opts.MaxTokensPerType))
	}
	return stages
}

// Filter resamples ds under opts. With no limits set ds is returned as is.
func Filter(ctx context.Context, ds Dataset, opts FilterOptions) (Dataset, FilterStats, error) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	rng := rand.New(rand.NewPCG(FilterSeed, 0))
	for _, st := range Stages(opts) {
		ds = st.Apply(ds, rng)
		l.Info("filter stage applied", "stage", st.Name(), "tokens", len(ds))
	}

	stats := Stats(ds)
	l.Info("filtered dataset", "types", stats.Types, "tokens", stats.Tokens)
	if stats.Tokens == 0 {
		return nil, stats, fmt.Errorf("%w: no entries left after filtering", domain.ErrEmptyDataset)
	}
	return ds, stats, nil
}

// Stats counts the types and tokens of ds.
func Stats(ds Dataset) FilterStats {
	types := map[string]struct{}{}
	for _, e := range ds {
		types[e.Label] = struct{}{}
	}
	return FilterStats{Types: len(types), Tokens: len(ds)}
}

// labelCount is a label and its number of tokens.
type labelCount struct {
	label string
	count int
}

// countLabels counts tokens per label, in order of first appearance.
func countLabels(ds Dataset) []labelCount {
	pos := map[string]int{}
	var counts []labelCount
	for _, e := range ds {
		i, ok := pos[e.Label]
		if !ok {
			i = len(counts)
			pos[e.Label] = i
			counts = append(counts, labelCount{label: e.Label})
		}
		counts[i].count++
	}
	return counts
}

// keep returns the entries of ds whose label is in labels, in order.
func keep(ds Dataset, labels map[string]bool) Dataset {
	out := make(Dataset, 0, len(ds))
	for _, e := range ds {
		if labels[e.Label] {
			out = append(out, e)
		}
	}
	return out
}

type maxTypesStage int

func (s maxTypesStage) Name() string { return fmt.Sprintf("max-types(%d)", int(s)) }

// Apply keeps the entries of the int(s) most frequent labels. Labels with
// equal counts rank in order of first appearance.
func (s maxTypesStage) Apply(ds Dataset, _ *rand.Rand) Dataset {
	counts := countLabels(ds)
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].count > counts[j].count })
	labels := map[string]bool{}
	for i := 0; i < len(counts) && i < int(s); i++ {
		labels[counts[i].label] = true
	}
	return keep(ds, labels)
}

type maxTokensStage int

func (s maxTokensStage) Name() string { return fmt.Sprintf("max-tokens(%d)", int(s)) }

// Apply keeps a random sample of int(s) entries, in sampled order.
func (s maxTokensStage) Apply(ds Dataset, rng *rand.Rand) Dataset {
	idx := shuffled(len(ds), rng)
	n := min(int(s), len(idx))
	out := make(Dataset, 0, n)
	for _, i := range idx[:n] {
		out = append(out, ds[i])
	}
	return out
}

type minTokensPerTypeStage int

func (s minTokensPerTypeStage) Name() string { return fmt.Sprintf("min-tokens-per-type(%d)", int(s)) }

// Apply drops labels with fewer than int(s) entries.
func (s minTokensPerTypeStage) Apply(ds Dataset, _ *rand.Rand) Dataset {
	labels := map[string]bool{}
	for _, c := range countLabels(ds) {
		if c.count >= int(s) {
			labels[c.label] = true
		}
	}
	return keep(ds, labels)
}

type maxTokensPerTypeStage int

func (s maxTokensPerTypeStage) Name() string { return fmt.Sprintf("max-tokens-per-type(%d)", int(s)) }

// Apply visits entries in random order and admits each one while its label
// has fewer than int(s) admitted entries.
func (s maxTokensPerTypeStage) Apply(ds Dataset, rng *rand.Rand) Dataset {
	admitted := map[string]int{}
	out := make(Dataset, 0, len(ds))
	for _, i := range shuffled(len(ds), rng) {
		e := ds[i]
		if admitted[e.Label] < int(s) {
			out = append(out, e)
			admitted[e.Label]++
		}
	}
	return out
}

func shuffled(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}
