// Package search implements hybrid retrieval over stored memories:
// vector similarity, weighted text relevance, and a blend of the two,
// with a fallback chain down to plain text matching.
package search

import (
	"math"
	"strings"
)

// Field weights for text relevance. Title matches count most; plain
// content matches least.
type FieldWeights struct {
	Title   float64
	Tags    float64
	Project float64
	Content float64
}

// DefaultFieldWeights mirrors the relative importance of each field.
var DefaultFieldWeights = FieldWeights{
	Title:   3.0,
	Tags:    2.5,
	Project: 2.0,
	Content: 1.0,
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths, empty vectors, and zero-magnitude vectors all
// score 0.0 rather than erroring; an unembeddable pair is simply not
// similar.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// SplitWords lowercases the query and splits it on whitespace.
func SplitWords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Tokenize returns the query's words of at least three characters.
// Shorter tokens match too much to carry signal.
func Tokenize(query string) []string {
	words := SplitWords(query)
	out := words[:0]
	for _, w := range words {
		if len(w) >= 3 {
			out = append(out, w)
		}
	}
	return out
}

// textFields is the searchable text of one memory, pre-lowered.
type textFields struct {
	title   string
	tags    []string
	project string
	content string
}

// TextRelevance scores how well a query matches a memory's text fields.
// Every word of at least three characters adds the weight of each field
// it hits: substring match for title, project and content, exact match
// for a tag. A word hitting several fields accumulates all of their
// weights. The raw sum is normalized by wordCount×titleWeight and
// capped at 1.0; the denominator counts every word, short ones
// included. No words means no relevance.
func TextRelevance(words []string, f textFields, w FieldWeights) float64 {
	if len(words) == 0 {
		return 0.0
	}
	var raw float64
	for _, word := range words {
		if len(word) < 3 {
			continue
		}
		if strings.Contains(f.title, word) {
			raw += w.Title
		}
		if strings.Contains(f.project, word) {
			raw += w.Project
		}
		for _, tag := range f.tags {
			if tag == word {
				raw += w.Tags
				break
			}
		}
		if strings.Contains(f.content, word) {
			raw += w.Content
		}
	}
	score := raw / (float64(len(words)) * w.Title)
	if score > 1.0 {
		return 1.0
	}
	return score
}

// RoundScore rounds to three decimal places, half away from zero for
// positive inputs. Scores cross an API boundary as JSON numbers; three
// places keeps them stable across encode/decode.
func RoundScore(x float64) float64 {
	return math.Floor(x*1000+0.5) / 1000
}
