package archive

// SentimentThresholds holds the score cutoffs for labeling. The ±0.1
// defaults mirror the archive's presentation conventions; treat them as
// configuration, not law.
type SentimentThresholds struct {
	Positive float64
	Negative float64
}

// DefaultSentimentThresholds returns the conventional ±0.1 cutoffs.
func DefaultSentimentThresholds() SentimentThresholds {
	return SentimentThresholds{Positive: 0.1, Negative: -0.1}
}

// Label maps a score onto positive/neutral/negative. The label is always
// recomputed from the score at persist time so the invariant
// label=positive ⇔ score>positive threshold holds regardless of what a
// capability reports.
func (t SentimentThresholds) Label(score float64) SentimentLabel {
	switch {
	case score > t.Positive:
		return SentimentPositive
	case score < t.Negative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
