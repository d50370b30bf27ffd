package movavg

import "github.com/benbjohnson/clock"

type Option func(*Estimator)

var (
	DefaultForecast       = 0.0
	DefaultWeightFuncType = WeightFuncExponential
)

// WithClock sets the clock that determines which samples are still inside
// the window.
func WithClock(clk clock.Clock) Option {
	return func(e *Estimator) {
		e.clk = clk
	}
}

// WithDefault sets the value returned by Forecast when there are no samples
// inside the window.
func WithDefault(v float64) Option {
	return func(e *Estimator) {
		e.def = v
	}
}

func WithWeightFunc(wft WeightFuncType) Option {
	return func(e *Estimator) {
		e.weightFuncType = wft
	}
}
