package dataio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hankgalt/acoustic-embeddings/pkg/domain"
)

// labelled builds a dataset with counts[i] tokens of labels[i], interleaved
// label by label.
func labelled(labels []string, counts []int) Dataset {
	var ds Dataset
	for round := 0; ; round++ {
		added := false
		for i, label := range labels {
			if round < counts[i] {
				key := fmt.Sprintf("%s_s%02d_%03d", label, round%3, round)
				ds = append(ds, Entry{Key: key, Seq: frames(2, 1), Label: label, Speaker: fmt.Sprintf("s%02d", round%3), Length: 2})
				added = true
			}
		}
		if !added {
			return ds
		}
	}
}

func labelCounts(ds Dataset) map[string]int {
	out := map[string]int{}
	for _, e := range ds {
		out[e.Label]++
	}
	return out
}

func TestFilterNoConstraints(t *testing.T) {
	ds := labelled([]string{"a", "b", "c"}, []int{3, 2, 1})
	got, stats, err := Filter(testContext(), ds, FilterOptions{})
	require.NoError(t, err)
	require.Equal(t, ds, got)
	require.Equal(t, FilterStats{Types: 3, Tokens: 6}, stats)
}

func TestFilterMaxTypes(t *testing.T) {
	// b and c tie on 3 tokens; b appears first
	ds := labelled([]string{"a", "b", "c", "d"}, []int{5, 3, 3, 1})
	got, stats, err := Filter(testContext(), ds, FilterOptions{MaxTypes: 2})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 5, "b": 3}, labelCounts(got))
	require.Equal(t, FilterStats{Types: 2, Tokens: 8}, stats)

	// original order is preserved
	var want Dataset
	for _, e := range ds {
		if e.Label == "a" || e.Label == "b" {
			want = append(want, e)
		}
	}
	require.Equal(t, want, got)
}

func TestFilterMaxTokensIsReproducible(t *testing.T) {
	ds := labelled([]string{"a", "b", "c", "d", "e"}, []int{10, 10, 10, 10, 10})
	require.Len(t, ds, 50)

	first, stats, err := Filter(testContext(), ds, FilterOptions{MaxTokens: 10})
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.Equal(t, 10, stats.Tokens)

	for i := 0; i < 5; i++ {
		again, _, err := Filter(testContext(), ds, FilterOptions{MaxTokens: 10})
		require.NoError(t, err)
		require.Equal(t, first.Keys(), again.Keys())
	}

	all, _, err := Filter(testContext(), ds, FilterOptions{MaxTokens: 500})
	require.NoError(t, err)
	require.ElementsMatch(t, ds.Keys(), all.Keys())
}

func TestFilterMinTokensPerType(t *testing.T) {
	ds := labelled([]string{"a", "b", "c"}, []int{4, 2, 1})
	got, _, err := Filter(testContext(), ds, FilterOptions{MinTokensPerType: 2})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 4, "b": 2}, labelCounts(got))

	_, _, err = Filter(testContext(), ds, FilterOptions{MinTokensPerType: 5})
	require.True(t, errors.Is(err, domain.ErrEmptyDataset))
}

func TestFilterComposition(t *testing.T) {
	ds := labelled([]string{"a", "b", "c", "d"}, []int{12, 9, 7, 2})
	got, stats, err := Filter(testContext(), ds, FilterOptions{MaxTypes: 2, MaxTokensPerType: 5})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 5, "b": 5}, labelCounts(got))
	require.Equal(t, FilterStats{Types: 2, Tokens: 10}, stats)

	again, _, err := Filter(testContext(), ds, FilterOptions{MaxTypes: 2, MaxTokensPerType: 5})
	require.NoError(t, err)
	require.Equal(t, got.Keys(), again.Keys())
}

func TestFilterStageOrder(t *testing.T) {
	stages := Stages(FilterOptions{MaxTokensPerType: 1, MinTokensPerType: 2, MaxTokens: 3, MaxTypes: 4})
	var names []string
	for _, st := range stages {
		names = append(names, st.Name())
	}
	require.Equal(t, []string{
		"max-types(4)",
		"max-tokens(3)",
		"min-tokens-per-type(2)",
		"max-tokens-per-type(1)",
	}, names)

	require.Empty(t, Stages(FilterOptions{}))
}

func TestFilterDoesNotModifyInput(t *testing.T) {
	ds := labelled([]string{"a", "b"}, []int{6, 6})
	before := append(Dataset(nil), ds...)
	_, _, err := Filter(testContext(), ds, FilterOptions{MaxTokens: 5, MaxTokensPerType: 2})
	require.NoError(t, err)
	require.Equal(t, before, ds)
}
