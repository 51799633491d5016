package model

import (
	"fmt"
	"sort"
	"strings"
)

// Candidate is a ranked HS code suggestion returned by the candidate source.
type Candidate struct {
	Code            string  `json:"code"`
	Description     string  `json:"description"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Validate ensures the Candidate has valid data.
func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("candidate code is required")
	}

	if c.SimilarityScore < 0.0 || c.SimilarityScore > 1.0 {
		return fmt.Errorf("similarity score must be between 0.0 and 1.0, got %.2f", c.SimilarityScore)
	}

	return nil
}

// Chapter returns the two-digit HS chapter of the code, or "" when the code is too short.
func (c *Candidate) Chapter() string {
	digits := strings.TrimSpace(c.Code)
	if len(digits) < 2 {
		return ""
	}
	return digits[:2]
}

// Confidence scales the similarity score to a 0-100 integer.
func (c *Candidate) Confidence() int {
	return ScoreToConfidence(c.SimilarityScore)
}

// ScoreToConfidence converts a [0,1] similarity into a 0-100 confidence.
func ScoreToConfidence(score float64) int {
	switch {
	case score <= 0:
		return 0
	case score >= 1:
		return 100
	}
	return int(score*100 + 0.5)
}

// Candidates is an ordered slice of Candidate that supports sorting and utility methods.
type Candidates []Candidate

// Len implements sort.Interface.
func (c Candidates) Len() int {
	return len(c)
}

// Less implements sort.Interface - higher scores come first.
func (c Candidates) Less(i, j int) bool {
	if c[i].SimilarityScore != c[j].SimilarityScore {
		return c[i].SimilarityScore > c[j].SimilarityScore
	}
	// Equal scores fall back to code order so results are deterministic
	return c[i].Code < c[j].Code
}

// Swap implements sort.Interface.
func (c Candidates) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
}

// Sort sorts the candidates by similarity in descending order.
func (c Candidates) Sort() {
	sort.Stable(c)
}

// IsSorted reports whether scores are non-increasing by position.
func (c Candidates) IsSorted() bool {
	for i := 1; i < len(c); i++ {
		if c[i].SimilarityScore > c[i-1].SimilarityScore {
			return false
		}
	}
	return true
}

// Top returns the highest-scoring candidate, or nil if empty.
// The receiver is assumed to be sorted.
func (c Candidates) Top() *Candidate {
	if len(c) == 0 {
		return nil
	}
	top := c[0]
	return &top
}

// TopN returns a copy of the first n candidates.
func (c Candidates) TopN(n int) Candidates {
	if n <= 0 {
		return Candidates{}
	}

	if n > len(c) {
		n = len(c)
	}

	result := make(Candidates, n)
	copy(result, c[:n])
	return result
}

// Codes returns the codes of the candidates in order.
func (c Candidates) Codes() []string {
	codes := make([]string, len(c))
	for i, candidate := range c {
		codes[i] = candidate.Code
	}
	return codes
}

// Find returns the candidate with the given code.
func (c Candidates) Find(code string) (Candidate, bool) {
	code = strings.TrimSpace(code)
	for _, candidate := range c {
		if candidate.Code == code {
			return candidate, true
		}
	}
	return Candidate{}, false
}

// AboveThreshold returns a sorted copy holding only candidates scoring at or above threshold.
func (c Candidates) AboveThreshold(threshold float64) Candidates {
	result := make(Candidates, 0, len(c))
	for _, candidate := range c {
		if candidate.SimilarityScore >= threshold {
			result = append(result, candidate)
		}
	}
	result.Sort()
	return result
}

// Clone returns an independent copy of the slice.
func (c Candidates) Clone() Candidates {
	if c == nil {
		return nil
	}
	result := make(Candidates, len(c))
	copy(result, c)
	return result
}

// Validate ensures all candidates are valid and no code appears twice.
func (c Candidates) Validate() error {
	seen := make(map[string]bool, len(c))

	for i, candidate := range c {
		if err := candidate.Validate(); err != nil {
			return fmt.Errorf("invalid candidate at index %d: %w", i, err)
		}

		if seen[candidate.Code] {
			return fmt.Errorf("duplicate code %q in candidates", candidate.Code)
		}
		seen[candidate.Code] = true
	}

	return nil
}
