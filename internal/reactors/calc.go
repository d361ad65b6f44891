// Package reactors holds the services a node can host by name.
package reactors

import (
	"context"
	"errors"
	"math"

	"Meshflow/internal/transform"
)

// Calc exposes integer arithmetic as transforms on Calc.{Method}.{a,b}.
type Calc struct{}

func (Calc) TransformSignatures() map[string]transform.Signature {
	return map[string]transform.Signature{
		"Add": {Params: []string{"a", "b"}},
		"Mul": {Params: []string{"a", "b"}},
	}
}

func (Calc) Add(a, b int) int { return a + b }
func (Calc) Mul(a, b int) int { return a * b }

var ErrNoValues = errors.New("no values")

// Stats computes summary statistics over a sample.
type Stats struct{}

func (Stats) TransformSignatures() map[string]transform.Signature {
	return map[string]transform.Signature{
		"MeanStd": {Params: []string{"values", "&mean"}, Results: []string{"stdev"}},
	}
}

// MeanStd writes the mean to mean and returns the population standard
// deviation. An empty sample fails without output.
func (Stats) MeanStd(ctx context.Context, values []float64, mean *float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	*mean = sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - *mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values))), nil
}
