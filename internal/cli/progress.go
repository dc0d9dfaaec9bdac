package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chiral/transferd/internal/domain"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// A terminal progress bar for transfer downloads, driven by the
// DownloadStats snapshot the orchestrator emits on each Progress event.
// Shows: [===========>..................]  42% | 12.3 MiB / 29.1 MiB | 4.2 MiB/s | ETA 4s | sources 2/3

const barWidth = 30

type progressBar struct {
	started time.Time
}

func newProgressBar() *progressBar {
	return &progressBar{started: time.Now()}
}

// render draws one line for a Progress event's stats.
func (p *progressBar) render(stats *domain.DownloadStats) {
	if stats == nil || stats.TotalBytes == 0 {
		return
	}
	pct := float64(stats.BytesDownloaded) / float64(stats.TotalBytes) * 100
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	var bar string
	switch {
	case filled >= barWidth:
		bar = strings.Repeat("=", barWidth)
	case filled > 0:
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", barWidth-filled)
	default:
		bar = strings.Repeat(".", barWidth)
	}

	speed := formatSpeed(stats.DownloadSpeedBps)
	eta := formatETA(stats.TimeRemainingS)

	clearLine()
	fmt.Fprintf(os.Stderr, "  [%s] %3.0f%% | %s / %s | %s | %s | sources %d/%d",
		bar, pct,
		humanSize(stats.BytesDownloaded), humanSize(stats.TotalBytes),
		speed, eta, stats.SourcesActive, stats.SourcesTotal)
}

// done prints a final newline so the next shell prompt doesn't overwrite
// the last rendered bar.
func (p *progressBar) done() {
	fmt.Fprintln(os.Stderr)
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "-- /s"
	}
	return humanSize(uint64(bytesPerSec)) + "/s"
}

func formatETA(seconds float64) string {
	if seconds <= 0 {
		return "ETA --"
	}
	s := int(seconds)
	if s < 60 {
		return fmt.Sprintf("ETA %ds", s)
	}
	if s < 3600 {
		return fmt.Sprintf("ETA %dm%ds", s/60, s%60)
	}
	return fmt.Sprintf("ETA %dh%dm", s/3600, (s%3600)/60)
}

func clearLine() {
	fmt.Fprintf(os.Stderr, "\r\033[K")
}
