package util

import (
	"fmt"
	"time"
)

// BalanceTimeRemaining projects how long balance coins last at ratePerMinute
// once elapsed call time has been spent. Never negative.
func BalanceTimeRemaining(balance, ratePerMinute int64, elapsed time.Duration) time.Duration {
	if ratePerMinute <= 0 {
		return 0
	}
	total := time.Duration(balance*60/ratePerMinute) * time.Second
	remaining := total - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining.Truncate(time.Second)
}

// FormatBalanceTime renders "1h 05m" above an hour and "12m 30s" below it.
func FormatBalanceTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	if secs >= 3600 {
		return fmt.Sprintf("%dh %02dm", secs/3600, (secs%3600)/60)
	}
	return fmt.Sprintf("%dm %02ds", secs/60, secs%60)
}
