package exposure

import (
	"sort"

	"github.com/topos-sec/topos-engine/pkg/models"
)

// Config holds the scoring policy. The zero value is not usable; call
// DefaultConfig or populate from the service configuration.
type Config struct {
	// MediumThreshold / HighThreshold band the score into levels:
	// score < MediumThreshold → LOW, score < HighThreshold → MEDIUM, else HIGH.
	MediumThreshold int
	HighThreshold   int
	// MaxBroadGroupNames caps how many broad group names the access summary lists.
	MaxBroadGroupNames int
}

// DefaultConfig returns the shipped scoring policy.
func DefaultConfig() Config {
	return Config{
		MediumThreshold:    34,
		HighThreshold:      67,
		MaxBroadGroupNames: 3,
	}
}

// Inputs is everything the scorer looks at. It is assembled by the
// enrichment worker but deliberately free of database types so scores are
// reproducible and testable independent of the pipeline.
type Inputs struct {
	// ReadablePrincipals is the count of distinct principals with
	// can_read=true for the document's file.
	ReadablePrincipals int
	// MaxFindingLevel is the highest sensitivity level among the document's
	// findings; empty when there are no findings.
	MaxFindingLevel models.SensitivityLevel
	// FindingCount is the total number of sensitivity findings.
	FindingCount int
	// BroadGroups names the readable groups whose transitive member count
	// meets the broad-group threshold.
	BroadGroups []string
}

// Result is the scorer's verdict.
type Result struct {
	Score   int
	Level   models.ExposureLevel
	Summary models.AccessSummary
}

// Scorer computes a bounded exposure score from access breadth and
// sensitivity findings. Score is a pure function of Inputs: identical
// inputs always yield identical output.
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer with the given policy.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score combines sensitivity weight with access breadth.
//
// The sensitivity base is 25/50/75 for max finding level LOW/MEDIUM/HIGH,
// plus 3 points per additional finding (capped at 5 extra findings). The
// breadth factor scales it: no readers 0.0, up to 10 readers 0.4, up to 50
// readers 0.7, more (or any broad group) 1.0. A broad group on a document
// with findings adds a further 10 points. Documents without findings score
// only a small breadth-driven residual. The result is clamped to [0,100].
func (s *Scorer) Score(in Inputs) Result {
	broad := len(in.BroadGroups) > 0

	var score int
	if in.FindingCount == 0 {
		score = int(10*s.breadthFactor(in.ReadablePrincipals, broad) + 0.5)
	} else {
		base := float64(in.MaxFindingLevel.Rank() * 25)
		extra := in.FindingCount - 1
		if extra > 5 {
			extra = 5
		}
		base += float64(extra * 3)

		score = int(base*s.breadthFactor(in.ReadablePrincipals, broad) + 0.5)
		if broad {
			score += 10
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{
		Score:   score,
		Level:   s.level(score),
		Summary: s.summary(in),
	}
}

func (s *Scorer) breadthFactor(readers int, broad bool) float64 {
	if broad {
		return 1.0
	}
	switch {
	case readers == 0:
		return 0.0
	case readers <= 10:
		return 0.4
	case readers <= 50:
		return 0.7
	default:
		return 1.0
	}
}

func (s *Scorer) level(score int) models.ExposureLevel {
	switch {
	case score < s.cfg.MediumThreshold:
		return models.ExposureLow
	case score < s.cfg.HighThreshold:
		return models.ExposureMedium
	default:
		return models.ExposureHigh
	}
}

func (s *Scorer) summary(in Inputs) models.AccessSummary {
	groups := make([]string, 0, len(in.BroadGroups))
	groups = append(groups, in.BroadGroups...)
	sort.Strings(groups)
	if len(groups) > s.cfg.MaxBroadGroupNames {
		groups = groups[:s.cfg.MaxBroadGroupNames]
	}

	return models.AccessSummary{
		BroadGroups:          groups,
		PrincipalCountBucket: CountBucket(in.ReadablePrincipals),
	}
}

// CountBucket maps a principal count to its display bucket.
func CountBucket(n int) string {
	switch {
	case n <= 10:
		return "0-10"
	case n <= 50:
		return "11-50"
	default:
		return "51+"
	}
}
