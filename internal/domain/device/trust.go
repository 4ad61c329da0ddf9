package device

import "time"

const day = 24 * time.Hour

// TrustInput is everything TrustScore looks at
type TrustInput struct {
	DeviceAge      time.Duration
	Logins         int
	RecentFailures int // failed logins in the trailing 24h
	Verified       bool
}

type band[T int | time.Duration] struct {
	min   T
	score float64
}

var (
	ageBands = []band[time.Duration]{
		{90 * day, 0.3},
		{30 * day, 0.2},
		{7 * day, 0.1},
	}
	loginBands = []band[int]{
		{50, 0.3},
		{20, 0.2},
		{5, 0.1},
	}
)

const (
	failurePenalty    = 0.1
	maxFailurePenalty = 0.3
	verifiedBonus     = 0.4
)

// TrustScore rates a device in [0,1]. The score is advisory and moves
// monotonically with each input.
func TrustScore(in TrustInput) float64 {
	score := bandScore(ageBands, in.DeviceAge) + bandScore(loginBands, in.Logins)

	if in.RecentFailures > 0 {
		penalty := float64(in.RecentFailures) * failurePenalty
		if penalty > maxFailurePenalty {
			penalty = maxFailurePenalty
		}
		score -= penalty
	}
	if in.Verified {
		score += verifiedBonus
	}

	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

func bandScore[T int | time.Duration](bands []band[T], v T) float64 {
	for _, b := range bands {
		if v >= b.min {
			return b.score
		}
	}
	return 0
}
