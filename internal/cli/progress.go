package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/tutu-network/convoy/internal/domain"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// One-line convoy summary for `convoy status`:
//   [=============>................]  45% | 9/20 done, 3 running, 2 blocked | ETA 4m10s

const barWidth = 30 // Characters for the progress bar

// progressLine renders p. The ETA extrapolates the completion rate since
// started.
func progressLine(p domain.ConvoyProgress, started, now time.Time) string {
	pct := p.PercentComplete
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf("%s %3.0f%% | %s | %s", renderBar(pct), pct, countsInfo(p), eta(pct, now.Sub(started)))
}

func renderBar(pct float64) string {
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var bar string
	if filled == barWidth {
		bar = strings.Repeat("=", filled)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	} else {
		bar = strings.Repeat(".", barWidth)
	}
	return "[" + bar + "]"
}

func countsInfo(p domain.ConvoyProgress) string {
	parts := []string{fmt.Sprintf("%d/%d done", p.Complete, p.Total)}
	if p.InProgress > 0 {
		parts = append(parts, fmt.Sprintf("%d running", p.InProgress))
	}
	if p.Blocked > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", p.Blocked))
	}
	if p.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", p.Failed))
	}
	return strings.Join(parts, ", ")
}

func eta(pct float64, elapsed time.Duration) string {
	if pct <= 0 || pct >= 100 {
		return "ETA --"
	}
	if elapsed < time.Second {
		return "ETA --"
	}

	totalEstimated := elapsed.Seconds() / (pct / 100)
	remaining := totalEstimated - elapsed.Seconds()
	if remaining < 0 {
		remaining = 0
	}

	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", int(remaining))
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", int(remaining)/60, int(remaining)%60)
	}
	return fmt.Sprintf("ETA %dh%dm", int(remaining)/3600, (int(remaining)%3600)/60)
}
