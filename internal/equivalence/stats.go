package equivalence

import "gonum.org/v1/gonum/stat/distuv"

// ChiSquared returns the chi-squared statistic of homogeneity for the two
// samples recorded in bins and its degrees of freedom. Bins with no
// observations are ignored.
func ChiSquared(bins []Outcome) (float64, int) {
	var n1, n2 float64
	used := 0
	for _, b := range bins {
		if b.Vanilla+b.Speculative == 0 {
			continue
		}
		n1 += float64(b.Vanilla)
		n2 += float64(b.Speculative)
		used++
	}
	if used < 2 || n1 == 0 || n2 == 0 {
		return 0, 0
	}
	n := n1 + n2
	var stat float64
	for _, b := range bins {
		total := float64(b.Vanilla + b.Speculative)
		if total == 0 {
			continue
		}
		e1 := n1 * total / n
		e2 := n2 * total / n
		d1 := float64(b.Vanilla) - e1
		d2 := float64(b.Speculative) - e2
		stat += d1*d1/e1 + d2*d2/e2
	}
	return stat, used - 1
}

// CriticalValue returns the upper alpha quantile of the chi-squared
// distribution with df degrees of freedom.
func CriticalValue(df int, alpha float64) float64 {
	return distuv.ChiSquared{K: float64(df)}.Quantile(1 - alpha)
}

// PValue returns the probability that a chi-squared variable with df
// degrees of freedom is at least stat.
func PValue(stat float64, df int) float64 {
	return distuv.ChiSquared{K: float64(df)}.Survival(stat)
}
