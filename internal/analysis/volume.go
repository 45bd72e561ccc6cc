package analysis

// VolumeProfile compares recent volume against a prior baseline.
type VolumeProfile struct {
	RecentAverage        float64 `json:"recent_average"`
	BaselineAverage      float64 `json:"baseline_average"`
	Ratio                float64 `json:"ratio"`
	Spike                bool    `json:"spike"`                 // ratio > 2x
	Trend                string  `json:"trend"`                 // "increasing", "decreasing", "stable"
	BreakoutConfirmation bool    `json:"breakout_confirmation"` // spike && increasing
}

// AnalyzeVolume compares the recent 10-tick average volume against the 40
// ticks before it, and labels the trend from the two halves of the recent
// window.
func AnalyzeVolume(volumes []float64) VolumeProfile {
	const (
		recentLen   = 10
		baselineLen = 40
	)

	profile := VolumeProfile{Trend: "stable"}
	if len(volumes) < recentLen {
		return profile
	}

	recent := volumes[len(volumes)-recentLen:]
	profile.RecentAverage = mean(recent)

	baselineStart := len(volumes) - recentLen - baselineLen
	if baselineStart < 0 {
		baselineStart = 0
	}
	baseline := volumes[baselineStart : len(volumes)-recentLen]
	if len(baseline) == 0 {
		return profile
	}
	profile.BaselineAverage = mean(baseline)

	if profile.BaselineAverage > 0 {
		profile.Ratio = profile.RecentAverage / profile.BaselineAverage
		profile.Spike = profile.Ratio > 2.0
	}

	firstHalf := mean(recent[:recentLen/2])
	secondHalf := mean(recent[recentLen/2:])
	if firstHalf > 0 {
		switch {
		case secondHalf > firstHalf*1.10:
			profile.Trend = "increasing"
		case secondHalf < firstHalf*0.90:
			profile.Trend = "decreasing"
		}
	}

	profile.BreakoutConfirmation = profile.Spike && profile.Trend == "increasing"
	return profile
}
