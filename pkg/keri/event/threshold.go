// Copyright 2025 Certen Protocol
//
// Signing thresholds: simple k-of-n or weighted clauses. Weighted math uses
// math/big.Rat for exact fractional sums — no ecosystem library in the
// retrieval pack implements rational consensus-threshold arithmetic, so this
// one piece of the domain logic is built on the standard library (see
// DESIGN.md).

package event

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// Fraction is a rational weight, e.g. {Num: 1, Den: 2} for one-half.
type Fraction struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

func (f Fraction) rat() *big.Rat { return big.NewRat(f.Num, f.Den) }

// Threshold is either a simple integer (k of n) or one or more weighted
// clauses, each clause assigning one weight per key in the key list.
type Threshold struct {
	Simple   *int         `json:"-"`
	Weighted [][]Fraction `json:"-"`
}

// SimpleThreshold constructs a simple k-of-n threshold.
func SimpleThreshold(k int) Threshold {
	return Threshold{Simple: &k}
}

// WeightedThreshold constructs a weighted threshold with the given clauses,
// each a slice of per-key weights.
func WeightedThreshold(clauses ...[]Fraction) Threshold {
	return Threshold{Weighted: clauses}
}

// IsZero reports whether the threshold requires zero signatures — used to
// detect a disabled next-rotation commitment.
func (t Threshold) IsZero() bool {
	if t.Simple != nil {
		return *t.Simple == 0
	}
	return len(t.Weighted) == 0
}

// Satisfiable reports whether the threshold can ever be met by n keys.
func (t Threshold) Satisfiable(n int) bool {
	if t.Simple != nil {
		return *t.Simple >= 0 && *t.Simple <= n
	}
	for _, clause := range t.Weighted {
		if len(clause) != n {
			return false
		}
		sum := new(big.Rat)
		for _, f := range clause {
			sum.Add(sum, f.rat())
		}
		if sum.Cmp(big.NewRat(1, 1)) < 0 {
			return false
		}
	}
	return true
}

// Satisfies reports whether the given (deduplicated) signer indices meet the
// threshold against a key list of length n.
func (t Threshold) Satisfies(indices []int, n int) bool {
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n {
			continue // indices outside the key list are ignored, not counted
		}
		seen[i] = true
	}

	if t.Simple != nil {
		return len(seen) >= *t.Simple
	}

	if len(t.Weighted) == 0 {
		return false
	}
	for _, clause := range t.Weighted {
		if len(clause) != n {
			return false
		}
		sum := new(big.Rat)
		for idx := range seen {
			sum.Add(sum, clause[idx].rat())
		}
		if sum.Cmp(big.NewRat(1, 1)) < 0 {
			return false // every clause must independently reach 1
		}
	}
	return true
}

// MarshalJSON renders a simple threshold as a bare integer and a weighted
// threshold as a list (or list-of-lists for multiple clauses), matching the
// KERI wire convention for "kt"/"nt" fields.
func (t Threshold) MarshalJSON() ([]byte, error) {
	if t.Simple != nil {
		return json.Marshal(*t.Simple)
	}
	if len(t.Weighted) == 1 {
		return json.Marshal(weightedClauseStrings(t.Weighted[0]))
	}
	clauses := make([][]string, len(t.Weighted))
	for i, c := range t.Weighted {
		clauses[i] = weightedClauseStrings(c)
	}
	return json.Marshal(clauses)
}

func weightedClauseStrings(c []Fraction) []string {
	out := make([]string, len(c))
	for i, f := range c {
		if f.Den == 1 {
			out[i] = fmt.Sprintf("%d", f.Num)
		} else {
			out[i] = fmt.Sprintf("%d/%d", f.Num, f.Den)
		}
	}
	return out
}

// UnmarshalJSON accepts a bare integer (simple) or a list / list-of-lists of
// "n" or "n/d" strings (weighted).
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		t.Simple = &asInt
		t.Weighted = nil
		return nil
	}

	var asStrings []string
	if err := json.Unmarshal(data, &asStrings); err == nil {
		clause, err := parseWeightedClause(asStrings)
		if err != nil {
			return err
		}
		t.Simple = nil
		t.Weighted = [][]Fraction{clause}
		return nil
	}

	var asClauses [][]string
	if err := json.Unmarshal(data, &asClauses); err == nil {
		clauses := make([][]Fraction, len(asClauses))
		for i, c := range asClauses {
			clause, err := parseWeightedClause(c)
			if err != nil {
				return err
			}
			clauses[i] = clause
		}
		t.Simple = nil
		t.Weighted = clauses
		return nil
	}

	return fmt.Errorf("event: threshold %q is neither an integer nor a weight list", string(data))
}

func parseWeightedClause(strs []string) ([]Fraction, error) {
	out := make([]Fraction, len(strs))
	for i, s := range strs {
		var num, den int64
		if _, err := fmt.Sscanf(s, "%d/%d", &num, &den); err == nil {
			out[i] = Fraction{Num: num, Den: den}
			continue
		}
		if _, err := fmt.Sscanf(s, "%d", &num); err == nil {
			out[i] = Fraction{Num: num, Den: 1}
			continue
		}
		return nil, fmt.Errorf("event: bad weight %q", s)
	}
	return out, nil
}
