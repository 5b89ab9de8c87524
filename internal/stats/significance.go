package stats

import "math"

// Count is the raw tally of one variant. The first Count passed to Analyze
// is the control.
type Count struct {
	VariantID   string
	Exposures   int
	Conversions int
}

// Result is the statistical read-out of an experiment.
type Result struct {
	Variants        []VariantResult `json:"variants"`
	Confident       bool            `json:"confident"`       // >= 95% confidence
	ConfidenceLevel float64         `json:"confidenceLevel"` // 0-1
	Leader          string          `json:"leader"`
}

// VariantResult holds the statistics for a single variant.
type VariantResult struct {
	VariantID   string  `json:"variantId"`
	Exposures   int     `json:"exposures"`
	Conversions int     `json:"conversions"`
	Rate        float64 `json:"rate"` // 0-1
	CILower     float64 `json:"ciLower"`
	CIUpper     float64 `json:"ciUpper"`
}

// SignificanceTest runs a two-proportion z-test and returns the confidence
// (0-1) that A converts better than B. Without data on both sides it
// returns 0.5.
func SignificanceTest(aConv, aViews, bConv, bViews int) float64 {
	if aViews == 0 || bViews == 0 {
		return 0.5
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)
	pooled := float64(aConv+bConv) / float64(aViews+bViews)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aViews) + 1/float64(bViews)))

	if se == 0 {
		switch {
		case pA > pB:
			return 1
		case pA < pB:
			return 0
		default:
			return 0.5
		}
	}
	return normalCDF((pA - pB) / se)
}

// normalCDF is the Abramowitz and Stegun 7.1.26 approximation.
func normalCDF(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	sign := 1.0
	if x < 0 {
		sign = -1
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1 / (1 + p*x)
	y := 1 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return 0.5 * (1 + sign*y)
}

// Analyze computes rates, 95% Wilson intervals and the significance of the
// leading variant against the control. When the control leads it is
// compared against the best challenger.
func Analyze(counts []Count) *Result {
	res := &Result{Variants: make([]VariantResult, len(counts))}
	if len(counts) == 0 {
		return res
	}

	leader := 0
	for i, c := range counts {
		rate := 0.0
		if c.Exposures > 0 {
			rate = float64(c.Conversions) / float64(c.Exposures)
		}
		lo, hi := WilsonInterval(c.Conversions, c.Exposures, 0.95)
		res.Variants[i] = VariantResult{
			VariantID:   c.VariantID,
			Exposures:   c.Exposures,
			Conversions: c.Conversions,
			Rate:        rate,
			CILower:     lo,
			CIUpper:     hi,
		}
		if rate > res.Variants[leader].Rate {
			leader = i
		}
	}
	res.Leader = res.Variants[leader].VariantID

	if len(counts) < 2 {
		return res
	}

	v := res.Variants
	if leader == 0 {
		challenger := 1
		for i := 2; i < len(v); i++ {
			if v[i].Rate > v[challenger].Rate {
				challenger = i
			}
		}
		res.ConfidenceLevel = SignificanceTest(v[0].Conversions, v[0].Exposures, v[challenger].Conversions, v[challenger].Exposures)
	} else {
		res.ConfidenceLevel = SignificanceTest(v[leader].Conversions, v[leader].Exposures, v[0].Conversions, v[0].Exposures)
	}
	res.Confident = res.ConfidenceLevel >= 0.95
	return res
}
