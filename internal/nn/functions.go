package nn

import (
	"errors"
	"math"
)

// WeightLimit bounds synapse weights and biases after mutation and tuning.
const WeightLimit = 10.0

var ErrNoValues = errors.New("no values")

// Saturation clamps value to [-WeightLimit, WeightLimit].
func Saturation(value float64) float64 {
	return clamp(value, WeightLimit)
}

func clamp(value, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, value))
}

// MeanStd returns the mean and population standard deviation of values.
func MeanStd(values []float64) (mean, std float64, err error) {
	if len(values) == 0 {
		return 0, 0, ErrNoValues
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values))), nil
}
