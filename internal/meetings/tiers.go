package meetings

import "strings"

// TierPolicy maps a subscription tier to the recurrence frequencies it may schedule.
type TierPolicy map[string][]Frequency

// DefaultTierPolicy is used when subscription_plans has no recurring-meeting configuration.
func DefaultTierPolicy() TierPolicy {
	return TierPolicy{
		"starter":    {},
		"growth":     {FrequencyMonthly},
		"pro":        {FrequencyMonthly, FrequencyBiWeekly},
		"enterprise": {FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly},
	}
}

// Allowed returns the tier's frequencies; ok is false for an unknown tier.
func (p TierPolicy) Allowed(tier string) (freqs []Frequency, ok bool) {
	freqs, ok = p[strings.ToLower(strings.TrimSpace(tier))]
	return freqs, ok
}

// Permits reports whether tier may schedule f.
func (p TierPolicy) Permits(tier string, f Frequency) bool {
	freqs, _ := p.Allowed(tier)
	for _, a := range freqs {
		if a == f {
			return true
		}
	}
	return false
}

// checkTier validates tier then frequency, in that order.
func (p TierPolicy) checkTier(tier string, f Frequency) error {
	freqs, ok := p.Allowed(tier)
	if !ok || len(freqs) == 0 {
		return newError(CodeInvalidTier, "your plan does not include recurring meetings")
	}
	if !p.Permits(tier, f) {
		return newError(CodeFrequencyNotAllowed, "the "+string(f)+" frequency is not available on your plan")
	}
	return nil
}
