package analysis

// Level is one support or resistance price level.
type Level struct {
	Price float64 `json:"price"`
	Index int     `json:"index"`
	Kind  string  `json:"kind"` // "support" or "resistance"
}

// FibLevel is one Fibonacci retracement level.
type FibLevel struct {
	Ratio float64 `json:"ratio"` // percent, e.g. 61.8
	Price float64 `json:"price"`
}

// fibRatios are the standard retracement ratios, in percent.
var fibRatios = []float64{0, 23.6, 38.2, 50, 61.8, 78.6, 100}

// FindLevels scans for local extrema: a point is support when it is less
// than or equal to every neighbor inside the centered window, resistance
// when greater than or equal.
func FindLevels(prices []float64, window int) []Level {
	if window <= 0 {
		window = 5
	}
	if len(prices) < window*2+1 {
		return nil
	}

	var levels []Level
	for i := window; i < len(prices)-window; i++ {
		isSupport := true
		isResistance := true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if prices[j] < prices[i] {
				isSupport = false
			}
			if prices[j] > prices[i] {
				isResistance = false
			}
			if !isSupport && !isResistance {
				break
			}
		}

		if isSupport {
			levels = append(levels, Level{Price: prices[i], Index: i, Kind: "support"})
		} else if isResistance {
			levels = append(levels, Level{Price: prices[i], Index: i, Kind: "resistance"})
		}
	}

	return levels
}

// Fibonacci computes retracement levels from the high/low of the trailing
// window, highest first.
func Fibonacci(prices []float64) []FibLevel {
	if len(prices) == 0 {
		return nil
	}

	high := prices[0]
	low := prices[0]
	for _, p := range prices {
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
	}

	diff := high - low
	levels := make([]FibLevel, len(fibRatios))
	for i, ratio := range fibRatios {
		levels[i] = FibLevel{
			Ratio: ratio,
			Price: high - diff*ratio/100,
		}
	}
	return levels
}
