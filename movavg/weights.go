package movavg

import (
	"fmt"
	"math"
	"time"
)

type WeightFuncType string

const (
	WeightFuncNone        WeightFuncType = "NONE"
	WeightFuncExponential WeightFuncType = "EXPONENTIAL"
)

// calcWeight selects the configured weight function and calculates the
// weight of a sample of the given age.
func (e *Estimator) calcWeight(age time.Duration) float64 {
	switch e.weightFuncType {
	case WeightFuncNone:
		return e.weightFuncNone(age)
	case WeightFuncExponential:
		return e.weightFuncExponential(age)
	default:
		panic(fmt.Sprintf("unknown weight func type %s", e.weightFuncType))
	}
}

// weightFuncNone does not weigh samples but treats every sample in the window the same.
func (e *Estimator) weightFuncNone(age time.Duration) float64 {
	return 1
}

// weightFuncExponential lets the weight of a sample decay exponentially with
// its age relative to the window.
// age: 0        -> e^0  -> 1
// age: window/2 -> e^-½ -> 0.607
// age: window   -> e^-1 -> 0.368
func (e *Estimator) weightFuncExponential(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp(-float64(age) / float64(e.window))
}
