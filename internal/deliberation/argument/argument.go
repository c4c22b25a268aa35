// Package argument constructs and validates arguments, scores their
// credibility and detects lexical conflicts between claims. Scoring is
// a pure function of the argument's own content, so recomputing a score
// from the same inputs never drifts.
package argument

import (
	"fmt"
	"sort"
	"strings"

	"dev.helix.deliberation/internal/deliberation/core"
)

const (
	// MaxClaimLength bounds the claim text.
	MaxClaimLength = 1000
	// MaxReasoningLength bounds the free-text reasoning.
	MaxReasoningLength = 5000

	// conflictOverlapThreshold is the shared long-word fraction above
	// which two claims with differing negation are flagged as conflicting.
	conflictOverlapThreshold = 0.3
)

// Input carries the caller-supplied fields for a new argument.
type Input struct {
	AgentID   string          `json:"agent_id"`
	Claim     string          `json:"claim"`
	Evidence  []core.Evidence `json:"evidence,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// Create validates the input and returns a scored argument. Structural
// failures reject with a typed validation error before any credibility
// computation occurs.
func Create(in Input, clock core.Clock, ids core.IDGenerator) (*core.Argument, error) {
	if err := checkStructure(in); err != nil {
		return nil, err
	}

	evidence := make([]core.Evidence, len(in.Evidence))
	for i, ev := range in.Evidence {
		if ev.ID == "" {
			ev.ID = ids.NewID()
		}
		if ev.Status == "" {
			ev.Status = core.EvidenceUnverified
		}
		evidence[i] = ev
	}

	return &core.Argument{
		ID:          ids.NewID(),
		AgentID:     in.AgentID,
		Claim:       in.Claim,
		Evidence:    evidence,
		Reasoning:   in.Reasoning,
		Credibility: Score(in.Claim, evidence, in.Reasoning),
		Timestamp:   clock.Now(),
	}, nil
}

func checkStructure(in Input) error {
	if strings.TrimSpace(in.Claim) == "" {
		return core.Errorf(core.ErrCodeValidation, "", "argument claim cannot be empty")
	}
	if len(in.Claim) > MaxClaimLength {
		return core.Errorf(core.ErrCodeValidation, "",
			"argument claim exceeds %d characters (got %d)", MaxClaimLength, len(in.Claim))
	}
	if len(in.Reasoning) > MaxReasoningLength {
		return core.Errorf(core.ErrCodeValidation, "",
			"argument reasoning exceeds %d characters (got %d)", MaxReasoningLength, len(in.Reasoning))
	}
	return nil
}

// Score computes the credibility of an argument in [0,1]:
// base 0.5, up to +0.3 for mean evidence credibility, +0.1 for the
// verified fraction, +0.05/+0.05 for reasoning length at 100/500
// characters, +0.1 for a claim between 50 and 500 characters, -0.1 for
// zero evidence and up to -0.2 for the disputed fraction.
func Score(claim string, evidence []core.Evidence, reasoning string) float64 {
	score := 0.5

	if len(evidence) == 0 {
		score -= 0.1
	} else {
		var credSum float64
		verified := 0
		disputed := 0
		for _, ev := range evidence {
			credSum += ev.Credibility
			switch ev.Status {
			case core.EvidenceVerified:
				verified++
			case core.EvidenceDisputed:
				disputed++
			}
		}
		n := float64(len(evidence))
		score += 0.3 * (credSum / n)
		score += 0.1 * (float64(verified) / n)
		score -= 0.2 * (float64(disputed) / n)
	}

	if len(reasoning) >= 100 {
		score += 0.05
	}
	if len(reasoning) >= 500 {
		score += 0.05
	}

	if len(claim) >= 50 && len(claim) <= 500 {
		score += 0.1
	}

	return clamp01(score)
}

// ValidationResult reports structural errors (blocking) and warnings
// (non-blocking) for an argument, plus the recomputed credibility when
// no errors were found.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Credibility float64  `json:"credibility"`
}

// Validate re-runs the structural checks on an existing argument,
// producing a structured result instead of an error. Credibility is
// recomputed only when no blocking errors are present.
func Validate(arg *core.Argument) ValidationResult {
	result := ValidationResult{}

	if strings.TrimSpace(arg.Claim) == "" {
		result.Errors = append(result.Errors, "claim is empty")
	} else if len(arg.Claim) > MaxClaimLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("claim exceeds %d characters", MaxClaimLength))
	}
	if len(arg.Reasoning) > MaxReasoningLength {
		result.Errors = append(result.Errors,
			fmt.Sprintf("reasoning exceeds %d characters", MaxReasoningLength))
	}

	for i, ev := range arg.Evidence {
		if strings.TrimSpace(ev.Content) == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("evidence %d has no content", i))
		}
		if strings.TrimSpace(ev.Source) == "" {
			result.Errors = append(result.Errors,
				fmt.Sprintf("evidence %d has no source", i))
		}
		if ev.Credibility < 0 || ev.Credibility > 1 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("evidence %d credibility %.2f is out of range", i, ev.Credibility))
		}
	}

	if len(arg.Claim) > 0 && len(arg.Claim) < 20 {
		result.Warnings = append(result.Warnings, "claim is very short")
	}
	if len(arg.Reasoning) > 0 && len(arg.Reasoning) < 50 {
		result.Warnings = append(result.Warnings, "reasoning is very short")
	}
	if len(arg.Evidence) == 0 {
		result.Warnings = append(result.Warnings, "argument has no supporting evidence")
	}

	result.Valid = len(result.Errors) == 0
	if result.Valid {
		result.Credibility = Score(arg.Claim, arg.Evidence, arg.Reasoning)
	}

	return result
}

// Compare returns the arguments ordered by credibility descending.
// Equal scores keep their relative (insertion) order, so the ordering
// is deterministic. The input slice is not modified.
func Compare(args []core.Argument) []core.Argument {
	sorted := make([]core.Argument, len(args))
	copy(sorted, args)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Credibility > sorted[j].Credibility
	})
	return sorted
}

// negationWords is the lexical negation marker set used by the
// conflict heuristic.
var negationWords = map[string]bool{
	"not":     true,
	"no":      true,
	"never":   true,
	"cannot":  true,
	"can't":   true,
	"won't":   true,
	"don't":   true,
	"doesn't": true,
	"isn't":   true,
	"aren't":  true,
	"wasn't":  true,
	"without": true,
}

// DetectConflict flags two arguments as conflicting when their claims
// differ on the presence of negation words while sharing a substantial
// fraction of their long words. Purely lexical; no semantic analysis.
func DetectConflict(a, b *core.Argument) bool {
	if HasNegation(a.Claim) == HasNegation(b.Claim) {
		return false
	}
	return WordOverlap(a.Claim, b.Claim) > conflictOverlapThreshold
}

// HasNegation reports whether the text carries a lexical negation
// marker. Shared with the evidence contradiction check.
func HasNegation(text string) bool {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if negationWords[strings.Trim(word, ".,;:!?\"'")] {
			return true
		}
	}
	return false
}

// WordOverlap computes the fraction of distinct long words (length > 3)
// shared between two texts, over the distinct long words of both.
func WordOverlap(a, b string) float64 {
	wordsA := longWords(a)
	wordsB := longWords(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	union := make(map[string]bool, len(wordsA)+len(wordsB))
	shared := 0
	for w := range wordsA {
		union[w] = true
	}
	for w := range wordsB {
		if union[w] {
			shared++
		}
		union[w] = true
	}

	return float64(shared) / float64(len(union))
}

func longWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'")
		if len(word) > 3 {
			words[word] = true
		}
	}
	return words
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
