package search

import (
	"math"
	"reflect"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical direction", []float32{1, 0, 0}, []float32{2, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"empty", nil, []float32{1}, 0.0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 1}, 0.0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := CosineSimilarity(c.a, c.b)
			if math.Abs(got-c.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, c.want)
			}
		})
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	a := []float32{0.3, -0.2, 0.9}
	b := []float32{0.1, 0.8, 0.4}
	if CosineSimilarity(a, b) != CosineSimilarity(b, a) {
		t.Error("cosine similarity must be symmetric")
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Laravel queue retry", []string{"laravel", "queue", "retry"}},
		{"go is ok", nil},
		{"  ", nil},
		{"API design", []string{"api", "design"}},
	}
	for _, c := range cases {
		got := Tokenize(c.in)
		if len(got) == 0 && len(c.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTextRelevance(t *testing.T) {
	w := DefaultFieldWeights
	f := textFields{
		title:   "laravel deployment guide",
		tags:    []string{"laravel", "devops"},
		project: "acme-api",
		content: "steps for deploying a laravel app",
	}

	// Title-only hit: 3/(1*3) = 1.0.
	if got := TextRelevance([]string{"guide"}, f, w); got != 1.0 {
		t.Errorf("title match = %v, want 1.0", got)
	}

	// Tag requires exact equality.
	if got := TextRelevance([]string{"devops"}, f, w); got != w.Tags/w.Title {
		t.Errorf("tag match = %v, want %v", got, w.Tags/w.Title)
	}

	// Content-only match.
	if got := TextRelevance([]string{"deploying"}, f, w); got != w.Content/w.Title {
		t.Errorf("content match = %v, want %v", got, w.Content/w.Title)
	}

	// A word hitting title, tag and content accumulates all three
	// weights: (3+2.5+1)/(3*3) with a dead third word.
	want := (w.Title + w.Tags + w.Content) / (3 * w.Title)
	if got := TextRelevance([]string{"laravel", "zzz", "yyy"}, f, w); got != want {
		t.Errorf("multi-field match = %v, want %v", got, want)
	}

	// Capped at 1.0: (3+2.5+1)/(2*3) > 1.
	if got := TextRelevance([]string{"laravel", "zzz"}, f, w); got != 1.0 {
		t.Errorf("capped match = %v, want 1.0", got)
	}

	// Short words never score but still count in the denominator.
	if got := TextRelevance([]string{"go", "deploying"}, f, w); got != w.Content/(2*w.Title) {
		t.Errorf("short-word dilution = %v, want %v", got, w.Content/(2*w.Title))
	}
	if got := TextRelevance([]string{"go", "is"}, f, w); got != 0.0 {
		t.Errorf("all-short words = %v, want 0.0", got)
	}

	if got := TextRelevance(nil, f, w); got != 0.0 {
		t.Errorf("no words = %v, want 0.0", got)
	}
}

func TestSplitWords(t *testing.T) {
	got := SplitWords("Go API Design")
	want := []string{"go", "api", "design"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitWords = %v, want %v", got, want)
	}
}

func TestRoundScoreHalfUp(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0.1234, 0.123},
		{0.0625, 0.063}, // exact half rounds up, not to even
		{0.9999, 1.0},
		{0.0, 0.0},
	}
	for _, c := range cases {
		if got := RoundScore(c.in); got != c.want {
			t.Errorf("RoundScore(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
