package sales

// Policy holds the thresholds that turn a Score into a potential-sale flag or
// an auto-created pending sale. The medium/low values are provisional and come
// from configuration.
type Policy struct {
	MediumFlagMin int
	LowFlagMin    int
	HighAutoMin   int
	MediumAutoMin int
}

func DefaultPolicy() Policy {
	return Policy{MediumFlagMin: 2, LowFlagMin: 3, HighAutoMin: 1, MediumAutoMin: 3}
}

// ShouldFlag reports whether the conversation should be marked as a potential sale.
func (p Policy) ShouldFlag(s Score) bool {
	switch s.Confidence {
	case ConfidenceHigh:
		return true
	case ConfidenceMedium:
		return s.Counts.Medium >= p.MediumFlagMin
	case ConfidenceLow:
		return s.Counts.Low >= p.LowFlagMin
	}
	return false
}

// ShouldAutoCreate reports whether a pending sale should be drafted. Low
// confidence never creates one.
func (p Policy) ShouldAutoCreate(s Score) bool {
	switch s.Confidence {
	case ConfidenceHigh:
		return s.Counts.High >= p.HighAutoMin
	case ConfidenceMedium:
		return s.Counts.Medium >= p.MediumAutoMin
	}
	return false
}
