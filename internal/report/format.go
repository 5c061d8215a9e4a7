package report

import (
	"fmt"

	"github.com/fyrsmithlabs/docqa/internal/evaluation"
)

// FormatLatency formats latency in seconds as "X.Xms" or "X.Xs"
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		return fmt.Sprintf("%.1fms", latencySeconds*1000)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatValue formats an evaluation metric with f, or "n/a".
func FormatValue(v evaluation.Value, f func(float64) string) string {
	x, ok := v.Get()
	if !ok {
		return evaluation.NotApplicable
	}
	return f(x)
}

// FormatScore formats a score with two decimals.
func FormatScore(score float64) string {
	return fmt.Sprintf("%.2f", score)
}
