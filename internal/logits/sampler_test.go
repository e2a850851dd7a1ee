package logits

import (
	"math"
	"testing"
)

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical results when sampling the same logits vector.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()
	logs := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 20; i++ {
		a := s1.Sample(logs, nil, nil)
		b := s2.Sample(logs, nil, nil)
		if a != b {
			t.Fatalf("draw %d: expected deterministic sample, got %d vs %d", i, a, b)
		}
	}
}

// TestSamplerGreedy tests that a non-positive temperature selects the argmax.
func TestSamplerGreedy(t *testing.T) {
	t.Parallel()
	logs := []float32{-1, 5, 3, 7, 2}
	s := NewSampler(SamplerConfig{Seed: 99, Temperature: 0})
	if idx := s.Sample(logs, nil, nil); idx != 3 {
		t.Fatalf("expected greedy index 3, got %d", idx)
	}
	dist := s.Distribution(logs, nil, nil)
	if dist[3] != 1 || dist.Sum() != 1 {
		t.Fatalf("expected one-hot on 3, got %v", dist)
	}
}

func TestSampleMatchesDrawOverDistribution(t *testing.T) {
	t.Parallel()
	cfg := SamplerConfig{Seed: 11, Temperature: 0.8, TopK: 3, TopP: 0.9, RepeatPenalty: 1.2, RepeatLastN: 4}
	logs := []float32{0.5, 1.5, -0.2, 1.1, 0.9}
	recent := []int{1, 3}
	a, b := NewSampler(cfg), NewSampler(cfg)
	for i := range 50 {
		got := a.Sample(logs, recent, nil)
		want := b.Draw(b.Distribution(logs, recent, nil))
		if got != want {
			t.Fatalf("draw %d: Sample returned %d, Draw over Distribution returned %d", i, got, want)
		}
	}
}

// TestSamplerTopP ensures that setting TopP less than 1 restricts sampling to a
// prefix of candidates. The first element dominates, so only index 0 may be
// returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()
	logs := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for i := 0; i < 10; i++ {
		if idx := s.Sample(logs, nil, nil); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestDistributionTopKTruncates(t *testing.T) {
	t.Parallel()
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 1, TopK: 2})
	dist := s.Distribution([]float32{1, 3, 2, 0}, nil, nil)
	if dist[0] != 0 || dist[3] != 0 {
		t.Fatalf("expected only top-2 ids to keep mass, got %v", dist)
	}
	if math.Abs(dist.Sum()-1) > 1e-12 {
		t.Fatalf("expected normalized distribution, sum=%v", dist.Sum())
	}
	if dist[1] <= dist[2] {
		t.Fatalf("expected id 1 to be more likely than id 2, got %v", dist)
	}
}

func TestDistributionMinP(t *testing.T) {
	t.Parallel()
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 1, TopK: 10, MinP: 0.5})
	// softmax([2, 0, 2]) keeps the two equal leaders and drops id 1.
	dist := s.Distribution([]float32{2, 0, 2}, nil, nil)
	if dist[1] != 0 {
		t.Fatalf("expected min-p to drop id 1, got %v", dist)
	}
	if math.Abs(dist[0]-0.5) > 1e-12 || math.Abs(dist[2]-0.5) > 1e-12 {
		t.Fatalf("expected even split, got %v", dist)
	}
}

func TestDistributionDoesNotMutateLogits(t *testing.T) {
	t.Parallel()
	logs := []float32{2, 1, -1}
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 0.7, RepeatPenalty: 1.5})
	_ = s.Distribution(logs, []int{0, 2}, nil)
	if logs[0] != 2 || logs[1] != 1 || logs[2] != -1 {
		t.Fatalf("logits mutated: %v", logs)
	}
}

func TestRepeatPenaltyLowersRecentTokens(t *testing.T) {
	t.Parallel()
	logs := []float32{2, 2}
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 1, RepeatPenalty: 2})
	dist := s.Distribution(logs, []int{0}, nil)
	if dist[0] >= dist[1] {
		t.Fatalf("expected penalized id 0 to be less likely, got %v", dist)
	}
	excluded := s.Distribution(logs, []int{0}, []int{0})
	if math.Abs(excluded[0]-excluded[1]) > 1e-12 {
		t.Fatalf("expected excluded id to be unpenalized, got %v", excluded)
	}
}

func TestDistributionNegativeInfinity(t *testing.T) {
	t.Parallel()
	inf := float32(math.Inf(-1))
	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 0.8})
	dist := s.Distribution([]float32{inf, 0, inf}, nil, nil)
	if dist[1] != 1 {
		t.Fatalf("expected all mass on the only finite logit, got %v", dist)
	}
}

func TestDrawNeverReturnsZeroProbability(t *testing.T) {
	t.Parallel()
	s := NewSampler(SamplerConfig{Seed: 11, Temperature: 1})
	dist := Distribution{0, 0.25, 0, 0.75, 0}
	for i := 0; i < 500; i++ {
		id := s.Draw(dist)
		if dist[id] == 0 {
			t.Fatalf("drew zero-probability id %d", id)
		}
	}
}

func TestDrawMatchesDistribution(t *testing.T) {
	t.Parallel()
	s := NewSampler(SamplerConfig{Seed: 5, Temperature: 1})
	dist := Distribution{0.1, 0.6, 0.3}
	const n = 20000
	counts := make([]int, len(dist))
	for i := 0; i < n; i++ {
		counts[s.Draw(dist)]++
	}
	for id, p := range dist {
		got := float64(counts[id]) / n
		if math.Abs(got-p) > 0.02 {
			t.Fatalf("id %d: frequency %.3f, want %.3f", id, got, p)
		}
	}
}
