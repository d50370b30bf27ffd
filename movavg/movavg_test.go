package movavg

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEstimator(t *testing.T) {
	clk := clock.NewMock()
	e := New(10*time.Second, WithClock(clk))

	assert.Equal(t, 10*time.Second, e.Window())
	assert.Equal(t, DefaultWeightFuncType, e.weightFuncType)
	assert.Zero(t, e.Len())

	assert.Panics(t, func() { New(0) })
	assert.Panics(t, func() { New(time.Second, WithWeightFunc("BOGUS")) })
}

func TestForecastWithoutSamples(t *testing.T) {
	clk := clock.NewMock()

	e := New(10*time.Second, WithClock(clk))
	assert.Zero(t, e.Forecast())

	e = New(10*time.Second, WithClock(clk), WithDefault(5))
	assert.Equal(t, 5.0, e.Forecast())
}

func TestForecastConstantSamples(t *testing.T) {
	for _, wft := range []WeightFuncType{WeightFuncNone, WeightFuncExponential} {
		t.Run(string(wft), func(t *testing.T) {
			clk := clock.NewMock()
			e := New(10*time.Second, WithClock(clk), WithWeightFunc(wft))

			for i := 0; i < 3; i++ {
				e.Push(clk.Now(), 10)
				clk.Add(time.Second)
			}
			assert.InDelta(t, 10, e.Forecast(), 1e-9)
			assert.Equal(t, 3, e.Len())
		})
	}
}

func TestForecastRevertsAfterWindow(t *testing.T) {
	clk := clock.NewMock()
	e := New(10*time.Second, WithClock(clk))

	e.Push(clk.Now(), 10)
	e.Push(clk.Now(), 10)
	e.Push(clk.Now(), 10)
	require.InDelta(t, 10, e.Forecast(), 1e-9)

	// still inside the window
	clk.Add(10 * time.Second)
	require.InDelta(t, 10, e.Forecast(), 1e-9)

	clk.Add(time.Millisecond)
	assert.Zero(t, e.Forecast())
	assert.Zero(t, e.Len())
}

func TestForecastEvictsOldestFirst(t *testing.T) {
	clk := clock.NewMock()
	e := New(10*time.Second, WithClock(clk), WithWeightFunc(WeightFuncNone))

	e.Push(clk.Now(), 100)
	clk.Add(6 * time.Second)
	e.Push(clk.Now(), 10)
	clk.Add(6 * time.Second)

	// the first sample is 12s old and gone, the second one 6s old
	assert.InDelta(t, 10, e.Forecast(), 1e-9)
	assert.Equal(t, 1, e.Len())
}

func TestForecastExponentialFavoursRecentSamples(t *testing.T) {
	clk := clock.NewMock()
	e := New(10*time.Second, WithClock(clk))

	e.Push(clk.Now(), 0)
	clk.Add(9 * time.Second)
	e.Push(clk.Now(), 100)

	// the recent sample has weight 1, the old one e^-0.9
	f := e.Forecast()
	assert.Greater(t, f, 50.0)
	assert.Less(t, f, 100.0)
}
