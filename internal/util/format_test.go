package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBalanceTimeRemaining(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		rate    int64
		elapsed time.Duration
		want    time.Duration
	}{
		{"fresh call", 100, 10, 0, 10 * time.Minute},
		{"partially spent", 100, 10, 90 * time.Second, 8*time.Minute + 30*time.Second},
		{"exhausted", 10, 10, 5 * time.Minute, 0},
		{"fractional minutes", 15, 10, 0, 90 * time.Second},
		{"zero rate", 100, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BalanceTimeRemaining(tt.balance, tt.rate, tt.elapsed))
		})
	}
}

func TestFormatBalanceTime(t *testing.T) {
	assert.Equal(t, "0m 00s", FormatBalanceTime(0))
	assert.Equal(t, "0m 00s", FormatBalanceTime(-time.Second))
	assert.Equal(t, "12m 30s", FormatBalanceTime(12*time.Minute+30*time.Second))
	assert.Equal(t, "59m 59s", FormatBalanceTime(time.Hour-time.Second))
	assert.Equal(t, "1h 05m", FormatBalanceTime(time.Hour+5*time.Minute+40*time.Second))
	assert.Equal(t, "26h 00m", FormatBalanceTime(26*time.Hour))
}
