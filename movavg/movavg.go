// Package movavg provides a time-windowed moving average that is used to
// forecast the cost of the next operation from recently observed costs.
package movavg

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

type sample struct {
	t time.Time
	v float64
}

// Estimator keeps the samples pushed during the last window and forecasts
// their weighted mean. It is not safe for concurrent use.
type Estimator struct {
	window         time.Duration
	clk            clock.Clock
	def            float64
	weightFuncType WeightFuncType

	// samples are ordered by push order, which is expected to be time order
	samples []sample
}

// New returns an estimator over the given window. It panics if window is not
// positive or the weight function is unknown.
func New(window time.Duration, opts ...Option) *Estimator {
	if window <= 0 {
		panic(fmt.Sprintf("moving average window must be positive, got %s", window))
	}

	e := &Estimator{
		window:         window,
		clk:            clock.New(),
		def:            DefaultForecast,
		weightFuncType: DefaultWeightFuncType,
	}
	for _, opt := range opts {
		opt(e)
	}

	// fail on unknown weight funcs early
	e.calcWeight(0)

	return e
}

// Window returns the time window of the estimator.
func (e *Estimator) Window() time.Duration {
	return e.window
}

// Push records a sample observed at time t.
func (e *Estimator) Push(t time.Time, v float64) {
	e.samples = append(e.samples, sample{t: t, v: v})
}

// Forecast returns the weighted mean of all samples that are no older than
// the window. Without such samples it returns the configured default.
func (e *Estimator) Forecast() float64 {
	now := e.clk.Now()
	e.evict(now)

	if len(e.samples) == 0 {
		return e.def
	}

	var sum, weights float64
	for _, s := range e.samples {
		w := e.calcWeight(now.Sub(s.t))
		sum += w * s.v
		weights += w
	}
	if weights == 0 {
		return e.def
	}
	return sum / weights
}

// Len returns the number of samples inside the window.
func (e *Estimator) Len() int {
	e.evict(e.clk.Now())
	return len(e.samples)
}

// evict drops samples that are older than the window.
func (e *Estimator) evict(now time.Time) {
	cutoff := now.Add(-e.window)
	i := 0
	for i < len(e.samples) && e.samples[i].t.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(e.samples, e.samples[i:])
	e.samples = e.samples[:n]
}
