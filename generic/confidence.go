package generic

// =============================================================================
// CONFIDENCE - One cascading-downgrade model for every domain
// =============================================================================

// Level is a discrete confidence level.
type Level string

const (
	High   Level = "high"
	Medium Level = "medium"
	Low    Level = "low"
)

func (l Level) rank() int {
	switch l {
	case High:
		return 2
	case Medium:
		return 1
	default:
		return 0
	}
}

// Lower reports whether l is strictly less confident than o.
func (l Level) Lower(o Level) bool { return l.rank() < o.rank() }

// LowestLevel returns the least confident of the given levels (High for none).
func LowestLevel(levels ...Level) Level {
	lowest := High
	for _, l := range levels {
		if l.Lower(lowest) {
			lowest = l
		}
	}
	return lowest
}

// LevelForScore buckets an additive 0-100 factor score.
func LevelForScore(score int) Level {
	switch {
	case score >= 80:
		return High
	case score >= 50:
		return Medium
	default:
		return Low
	}
}

// Confidence is a level plus the reasons that lowered it.
type Confidence struct {
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons"`
}

// NewConfidence starts the cascade at High.
func NewConfidence() Confidence {
	return Confidence{Level: High, Reasons: []string{}}
}

// Downgrade records reason and lowers the level to at most l.
// Issues never average: the lowest level wins.
func (c *Confidence) Downgrade(l Level, reason string) {
	if l.Lower(c.Level) {
		c.Level = l
	}
	c.Reasons = append(c.Reasons, reason)
}

// Merge folds another confidence into c.
func (c *Confidence) Merge(o Confidence) {
	if o.Level.Lower(c.Level) {
		c.Level = o.Level
	}
	c.Reasons = append(c.Reasons, o.Reasons...)
}
