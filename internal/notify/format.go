package notify

import (
	"fmt"
	"strings"

	"github.com/triagewatch/triagewatch/internal/digest"
	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/triage"
)

// maxDefectsPerComponent caps how many defects a component lists before
// collapsing into an overflow line.
const maxDefectsPerComponent = 5

// formatDefectReport renders the grouped untriaged defect report, or the
// all-clear affirmation when nothing is untriaged.
func formatDefectReport(grouped []triage.ComponentDefects, total int, linkURL string) string {
	if total == 0 {
		return "All clear: no untriaged defects across monitored components."
	}

	var b strings.Builder
	if total == 1 {
		b.WriteString("1 Untriaged Defect\n")
	} else {
		fmt.Fprintf(&b, "%d Untriaged Defects\n", total)
	}

	for _, group := range grouped {
		if len(group.Defects) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d untriaged)\n", group.Component, len(group.Defects))

		shown := group.Defects
		if len(shown) > maxDefectsPerComponent {
			shown = shown[:maxDefectsPerComponent]
		}
		for _, d := range shown {
			fmt.Fprintf(&b, "- [%s] %s (Owner: %s, State: %s)\n", d.ID, d.Summary, d.Owner, d.State)
			if linkURL != "" && d.ID != triage.PlaceholderID {
				fmt.Fprintf(&b, "  %s%s\n", linkURL, d.ID)
			}
		}
		if overflow := len(group.Defects) - maxDefectsPerComponent; overflow > 0 {
			fmt.Fprintf(&b, "... and %d more\n", overflow)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// formatErrorReport renders an error notification with guidance matched to
// the failure kind. Auth failures never reach this path; they route into
// the login recovery flow instead.
func formatErrorReport(cause error) string {
	message := fmt.Sprintf("Defect check failed: %s", cause.Error())

	switch {
	case errors.IsNetworkUnreachable(cause):
		message += "\nThe defect service appears unreachable. Automatic retries are running every 30 seconds."
	case isFetchStatus(cause):
		message += "\nThe defect service returned an error. Check the service status before the next scheduled run."
	case errors.IsNotifyFailed(cause):
		message += "\nThe webhook endpoint rejected a delivery. Verify the webhook URL in the settings."
	}

	return message
}

func isFetchStatus(err error) bool {
	_, ok := errors.IsFetchFailed(err)
	return ok
}

// formatWeeklyDigest renders the weekly digest summary message
func formatWeeklyDigest(d *digest.Digest) string {
	var b strings.Builder
	b.WriteString("Weekly Triage Digest\n")

	fmt.Fprintf(&b, "\nUntriaged: %d (last week: %d)\n", d.ThisWeek.Untriaged, d.LastWeek.Untriaged)
	fmt.Fprintf(&b, "Total defects: %d\n", d.ThisWeek.Total)
	fmt.Fprintf(&b, "Breakdown: %d test, %d product, %d infrastructure\n",
		d.ThisWeek.TestBugs, d.ThisWeek.ProductBugs, d.ThisWeek.InfraBugs)
	fmt.Fprintf(&b, "Trend: %s %d%% week over week\n", trendArrow(d.TrendPercent), d.TrendPercent)

	if len(d.Components) > 0 {
		b.WriteString("\nBy component:\n")
		for _, c := range d.Components {
			fmt.Fprintf(&b, "- %s: %d untriaged\n", c.Name, c.Count)
		}
	}

	if len(d.PriorityItems) > 0 {
		b.WriteString("\nPriority items:\n")
		for _, item := range d.PriorityItems {
			fmt.Fprintf(&b, "! %s\n", item)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func trendArrow(percent int) string {
	switch {
	case percent > 0:
		return "up"
	case percent < 0:
		return "down"
	default:
		return "flat"
	}
}
