package analysis

import (
	"time"

	"github.com/clauseguard/clauseguard/authindex"
)

// ClauseAnalysis is one committed run of the four-stage graph for a clause.
// Immutable once committed; re-running a clause produces a new version.
type ClauseAnalysis struct {
	ClauseID int    `json:"clause_id"`
	Version  int    `json:"version"`
	Summary  string `json:"summary"`

	// Hits are the authorities retrieved for the summary, descending by
	// similarity.
	Hits []authindex.Hit `json:"hits,omitempty"`

	// RiskScore is in [0,1]. At or above the material threshold the
	// rationale references at least one retrieved hit.
	RiskScore     float64 `json:"risk_score"`
	RiskRationale string  `json:"risk_rationale"`

	// Suggestion is the proposed rewording; empty means no change
	// recommended. Citations is the subset of Hits actually relied on.
	Suggestion string   `json:"suggestion,omitempty"`
	Citations  []string `json:"citations,omitempty"`

	// Failed marks a version whose stage graph exhausted its retries.
	// Decisions on a failed latest version are refused.
	Failed     bool   `json:"failed,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`

	CreatedAt int64 `json:"created_at"` // unix milliseconds

	// Stages records per-stage wall-clock intervals for the run that
	// produced this version. Not persisted.
	Stages []StageTiming `json:"-"`
}

// StageTiming is the observed execution window of one graph stage.
type StageTiming struct {
	Name       string
	StartedAt  time.Time
	FinishedAt time.Time
}

// CitationSet returns the citations as a membership set.
func (a *ClauseAnalysis) CitationSet() map[string]bool {
	set := make(map[string]bool, len(a.Citations))
	for _, ref := range a.Citations {
		set[ref] = true
	}
	return set
}

// Stage names, in dependency order.
const (
	StageSummarize = "summarize"
	StageRetrieve  = "retrieve_case_law"
	StageEvaluate  = "evaluate_risk"
	StageSuggest   = "suggest_improvement"
)
