// Package stats holds the cross-model statistics of a multi-architecture
// run.
package stats

import (
	"fmt"
	"math"

	mstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/beanscope/pkg/errors"
)

// SignificanceLevel is the p-value below which architectures are reported
// as significantly different.
const SignificanceLevel = 0.05

// Group is one architecture's pooled accuracy samples.
type Group struct {
	Name    string
	Samples []float64
}

// ANOVAResult is the outcome of a one-way ANOVA.
type ANOVAResult struct {
	FStatistic  float64
	PValue      float64
	DFBetween   int
	DFWithin    int
	Significant bool
	Verdict     string
}

// OneWayANOVA tests whether the group means differ.
//
// When every sample is identical the F statistic is 0 and p is 1. When the
// groups are internally constant but their means differ, F is +Inf and p
// is 0.
func OneWayANOVA(groups []Group) (*ANOVAResult, error) {
	if len(groups) < 2 {
		return nil, errors.NewValueError("OneWayANOVA", fmt.Sprintf("need at least 2 groups, got %d", len(groups)))
	}

	n := 0
	grand := 0.0
	means := make([]float64, len(groups))
	for i, g := range groups {
		if len(g.Samples) == 0 {
			return nil, errors.Wrapf(errors.ErrEmptyData, "OneWayANOVA: group %q has no samples", g.Name)
		}
		m, err := mstats.Mean(g.Samples)
		if err != nil {
			return nil, errors.Wrapf(err, "OneWayANOVA: mean of group %q", g.Name)
		}
		means[i] = m
		n += len(g.Samples)
		grand += floats.Sum(g.Samples)
	}
	grand /= float64(n)

	k := len(groups)
	dfBetween, dfWithin := k-1, n-k
	if dfWithin <= 0 {
		return nil, errors.NewValueError("OneWayANOVA", fmt.Sprintf("need more samples than groups, got %d samples for %d groups", n, k))
	}

	var ssBetween, ssWithin float64
	for i, g := range groups {
		d := means[i] - grand
		ssBetween += float64(len(g.Samples)) * d * d
		for _, x := range g.Samples {
			e := x - means[i]
			ssWithin += e * e
		}
	}

	res := &ANOVAResult{DFBetween: dfBetween, DFWithin: dfWithin}
	switch {
	case ssWithin == 0 && ssBetween == 0:
		res.FStatistic, res.PValue = 0, 1
	case ssWithin == 0:
		res.FStatistic, res.PValue = math.Inf(1), 0
	default:
		res.FStatistic = (ssBetween / float64(dfBetween)) / (ssWithin / float64(dfWithin))
		res.PValue = FTestPValue(res.FStatistic, dfBetween, dfWithin)
	}

	res.Significant = res.PValue < SignificanceLevel
	res.Verdict = verdict(res)
	return res, nil
}

// FTestPValue is the upper-tail probability of the F distribution.
func FTestPValue(f float64, df1, df2 int) float64 {
	if df1 <= 0 || df2 <= 0 {
		return 1
	}
	p := 1 - distuv.F{D1: float64(df1), D2: float64(df2)}.CDF(f)
	return math.Min(1, math.Max(0, p))
}

func verdict(r *ANOVAResult) string {
	if r.Significant {
		return fmt.Sprintf("There is a statistically significant difference between the models (p = %.4f < %.2f)", r.PValue, SignificanceLevel)
	}
	return fmt.Sprintf("There is no statistically significant difference between the models (p = %.4f >= %.2f)", r.PValue, SignificanceLevel)
}
