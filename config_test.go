package topicview

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config) *Config
		wantErr bool
	}{
		{
			name:    "happy path",
			wantErr: false,
			mutate:  func(c *Config) *Config { return c },
		},
		{
			name:    "nil clock",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.Clock = nil
				return c
			},
		},
		{
			name:    "0 window",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.Window = 0
				return c
			},
		},
		{
			name:    "negative amplification",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.Amplification = -1
				return c
			},
		},
		{
			name:    "NaN amplification",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.Amplification = math.NaN()
				return c
			},
		},
		{
			name:    "0 amplification",
			wantErr: false,
			mutate: func(c *Config) *Config {
				c.Amplification = 0
				return c
			},
		},
		{
			name:    "negative min interval",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.MinInterval = time.Duration(-1)
				return c
			},
		},
		{
			name:    "max interval below min interval",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.MaxInterval = c.MinInterval - 1
				return c
			},
		},
		{
			name:    "max interval equal to min interval",
			wantErr: false,
			mutate: func(c *Config) *Config {
				c.MaxInterval = c.MinInterval
				return c
			},
		},
		{
			name:    "0 inbox size",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.InboxSize = 0
				return c
			},
		},
		{
			name:    "negative path cache size",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.PathCacheSize = -1
				return c
			},
		},
		{
			name:    "disabled path cache",
			wantErr: false,
			mutate: func(c *Config) *Config {
				c.PathCacheSize = 0
				return c
			},
		},
		{
			name:    "nil logger",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.Logger = nil
				return c
			},
		},
		{
			name:    "nil meter provider",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.MeterProvider = nil
				return c
			},
		},
		{
			name:    "nil tracer provider",
			wantErr: true,
			mutate: func(c *Config) *Config {
				c.TracerProvider = nil
				return c
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			c = tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_schedulerConfig(t *testing.T) {
	clk := clock.NewMock()
	c := DefaultConfig()
	c.Clock = clk
	c.MaxInterval = 5 * time.Second

	tele, err := NewTelemetry("test", c.MeterProvider, c.TracerProvider)
	assert.NoError(t, err)

	sc := c.schedulerConfig(tele)
	assert.NoError(t, sc.Validate())
	assert.Equal(t, clk, sc.Clock)
	assert.Equal(t, c.Window, sc.Window)
	assert.Equal(t, c.Amplification, sc.Amplification)
	assert.Equal(t, c.MinInterval, sc.MinInterval)
	assert.Equal(t, c.MaxInterval, sc.MaxInterval)
	assert.Equal(t, tele.Attributes, sc.Attributes)
}
