package executor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ashita-ai/rota/internal/model"
)

// maxSummaryLen is the tracker's summary field limit.
const maxSummaryLen = 255

// Summary derives the ticket summary from the work item description.
// Truncation never splits a multibyte rune; trackers reject invalid UTF-8.
func Summary(description string) string {
	description = strings.TrimSpace(description)
	if len(description) <= maxSummaryLen {
		return description
	}
	cut := maxSummaryLen
	for cut > 0 && !utf8.RuneStart(description[cut]) {
		cut--
	}
	return description[:cut]
}

// Render produces the ticket body: assignment block, evidence list, original
// description. Deterministic for identical inputs; the same text becomes the
// fallback message when ticket creation fails.
func Render(item model.WorkItem, primaryName string, backupNames []string, evidence []model.EvidenceBullet) string {
	var b strings.Builder

	b.WriteString("Assignment\n----------\n")
	fmt.Fprintf(&b, "Primary: %s\n", primaryName)
	if len(backupNames) > 0 {
		fmt.Fprintf(&b, "Backups: %s\n", strings.Join(backupNames, ", "))
	} else {
		b.WriteString("Backups: none\n")
	}
	fmt.Fprintf(&b, "Service: %s\nSeverity: %s\n", item.Service, item.Severity)

	b.WriteString("\nEvidence\n--------\n")
	if len(evidence) == 0 {
		b.WriteString("No evidence available.\n")
	}
	for _, bullet := range evidence {
		fmt.Fprintf(&b, "- [%s] %s (%s; %s)\n", bullet.Type, bullet.Text, bullet.TimeWindow, bullet.Source)
	}

	b.WriteString("\nOriginal description\n--------------------\n")
	b.WriteString(item.Description)
	b.WriteString("\n")
	return b.String()
}
