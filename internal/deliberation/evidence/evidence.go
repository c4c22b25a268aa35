// Package evidence merges evidence across arguments, computes quality
// and diversity metrics, and flags conflicting evidence pairs.
package evidence

import (
	"fmt"

	"dev.helix.deliberation/internal/deliberation/argument"
	"dev.helix.deliberation/internal/deliberation/core"
)

const (
	// contradictionOverlapThreshold is the shared long-word fraction
	// above which two items with differing negation are contradictory.
	contradictionOverlapThreshold = 0.4

	lowCredibilityCutoff = 0.3
	maxLowCredFraction   = 0.5
	maxDisputedFraction  = 0.3
	minSourceDiversity   = 0.3
	verifiedWeightFactor = 1.2
	disputedWeightFactor = 0.5
)

// Summary aggregates all evidence attached to a set of arguments.
type Summary struct {
	TotalEvidence   int                `json:"total_evidence"`
	MeanCredibility float64            `json:"mean_credibility"`
	VerifiedCount   int                `json:"verified_count"`
	DisputedCount   int                `json:"disputed_count"`
	SourceCounts    map[string]int     `json:"source_counts"`
	DistinctSources int                `json:"distinct_sources"`
	Summary         string             `json:"summary"`
}

// Aggregate flattens the evidence across all arguments and computes
// per-source counts, credibility and verification totals, and a
// one-line human-readable summary.
func Aggregate(args []core.Argument) *Summary {
	summary := &Summary{
		SourceCounts: make(map[string]int),
	}

	var credSum float64
	for _, arg := range args {
		for _, ev := range arg.Evidence {
			summary.TotalEvidence++
			credSum += ev.Credibility
			summary.SourceCounts[ev.Source]++
			switch ev.Status {
			case core.EvidenceVerified:
				summary.VerifiedCount++
			case core.EvidenceDisputed:
				summary.DisputedCount++
			}
		}
	}

	if summary.TotalEvidence == 0 {
		summary.Summary = "No evidence provided"
		return summary
	}

	summary.MeanCredibility = credSum / float64(summary.TotalEvidence)
	summary.DistinctSources = len(summary.SourceCounts)
	summary.Summary = fmt.Sprintf(
		"%d evidence items from %d sources (%d verified, %d disputed), mean credibility %.2f",
		summary.TotalEvidence, summary.DistinctSources,
		summary.VerifiedCount, summary.DisputedCount, summary.MeanCredibility,
	)

	return summary
}

// ConflictSeverity grades an evidence conflict.
type ConflictSeverity string

const (
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// ConflictKind identifies why two evidence items conflict.
type ConflictKind string

const (
	ConflictBothDisputed  ConflictKind = "both_disputed"
	ConflictContradictory ConflictKind = "contradictory"
)

// Conflict is a flagged pair of evidence items.
type Conflict struct {
	EvidenceA   string           `json:"evidence_a"`
	EvidenceB   string           `json:"evidence_b"`
	Kind        ConflictKind     `json:"kind"`
	Severity    ConflictSeverity `json:"severity"`
	Description string           `json:"description"`
}

// DetectConflicts performs a pairwise scan over all evidence, flagging
// pairs that are both disputed (medium) or whose content differs on
// negation with substantial word overlap (high, contradictory).
func DetectConflicts(args []core.Argument) []Conflict {
	flat := flatten(args)
	var conflicts []Conflict

	for i := 0; i < len(flat); i++ {
		for j := i + 1; j < len(flat); j++ {
			a, b := flat[i], flat[j]

			if a.Status == core.EvidenceDisputed && b.Status == core.EvidenceDisputed {
				conflicts = append(conflicts, Conflict{
					EvidenceA:   a.ID,
					EvidenceB:   b.ID,
					Kind:        ConflictBothDisputed,
					Severity:    SeverityMedium,
					Description: fmt.Sprintf("evidence from %q and %q are both disputed", a.Source, b.Source),
				})
				continue
			}

			if argument.HasNegation(a.Content) != argument.HasNegation(b.Content) &&
				argument.WordOverlap(a.Content, b.Content) > contradictionOverlapThreshold {
				conflicts = append(conflicts, Conflict{
					EvidenceA:   a.ID,
					EvidenceB:   b.ID,
					Kind:        ConflictContradictory,
					Severity:    SeverityHigh,
					Description: fmt.Sprintf("evidence from %q contradicts evidence from %q", a.Source, b.Source),
				})
			}
		}
	}

	return conflicts
}

// Weigh scales each item's credibility by its verification status
// (x1.2 verified, x0.5 disputed) and clamps to [0,1]. The evidence
// itself is read-only; weights are returned keyed by evidence id.
func Weigh(args []core.Argument) map[string]float64 {
	weights := make(map[string]float64)
	for _, ev := range flatten(args) {
		w := ev.Credibility
		switch ev.Status {
		case core.EvidenceVerified:
			w *= verifiedWeightFactor
		case core.EvidenceDisputed:
			w *= disputedWeightFactor
		}
		if w > 1 {
			w = 1
		}
		if w < 0 {
			w = 0
		}
		weights[ev.ID] = w
	}
	return weights
}

// QualityReport lists the quality issues found across the evidence pool.
type QualityReport struct {
	Acceptable bool     `json:"acceptable"`
	Issues     []string `json:"issues,omitempty"`
}

// ValidateQuality fails the evidence pool when it is empty, dominated
// by low-credibility items, too heavily disputed, or drawn from too few
// distinct sources.
func ValidateQuality(args []core.Argument) QualityReport {
	flat := flatten(args)
	report := QualityReport{}

	if len(flat) == 0 {
		report.Issues = append(report.Issues, "No evidence provided")
		return report
	}

	total := float64(len(flat))
	lowCred := 0
	disputed := 0
	sources := make(map[string]bool)
	for _, ev := range flat {
		if ev.Credibility < lowCredibilityCutoff {
			lowCred++
		}
		if ev.Status == core.EvidenceDisputed {
			disputed++
		}
		sources[ev.Source] = true
	}

	if float64(lowCred)/total > maxLowCredFraction {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d of %d evidence items have credibility below %.1f", lowCred, len(flat), lowCredibilityCutoff))
	}
	if float64(disputed)/total > maxDisputedFraction {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d of %d evidence items are disputed", disputed, len(flat)))
	}

	diversity := float64(len(sources)) / total
	if diversity > 1 {
		diversity = 1
	}
	if diversity < minSourceDiversity {
		report.Issues = append(report.Issues,
			fmt.Sprintf("source diversity %.2f is below %.2f", diversity, minSourceDiversity))
	}

	report.Acceptable = len(report.Issues) == 0
	return report
}

func flatten(args []core.Argument) []core.Evidence {
	var flat []core.Evidence
	for _, arg := range args {
		flat = append(flat, arg.Evidence...)
	}
	return flat
}
