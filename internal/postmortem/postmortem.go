package postmortem

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"incidentline/internal/domain"
)

const timeFormat = "2006-01-02 15:04 MST"

var fiveWhys = []string{
	"Why did the incident happen?",
	"Why did that condition exist?",
	"Why was it not detected earlier?",
	"Why did existing safeguards not prevent it?",
	"Why is this the root cause?",
}

// Render writes a markdown postmortem for the incident.
func Render(d domain.IncidentDetail, generatedAt time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Postmortem: %s\n\n", d.Title)
	fmt.Fprintf(&b, "_Generated %s_\n\n", generatedAt.UTC().Format(timeFormat))

	b.WriteString("## Incident\n\n")
	meta := table.NewWriter()
	meta.AppendHeader(table.Row{"Field", "Value"})
	meta.AppendRows([]table.Row{
		{"ID", d.ID},
		{"Severity", d.Severity},
		{"Status", d.Status},
		{"Tags", joinOrDash(d.Tags)},
		{"Created by", orDash(d.Creator.Email)},
		{"Created", d.CreatedAt.UTC().Format(timeFormat)},
		{"Updated", d.UpdatedAt.UTC().Format(timeFormat)},
	})
	b.WriteString(meta.RenderMarkdown())
	b.WriteString("\n\n")

	b.WriteString("## Root cause analysis (Five Whys)\n\n")
	for i, q := range fiveWhys {
		fmt.Fprintf(&b, "%d. %s\n   - \n", i+1, q)
	}
	b.WriteString("\n")

	b.WriteString("## Timeline\n\n")
	if len(d.Timeline) == 0 {
		b.WriteString("No timeline events recorded.\n\n")
	} else {
		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"#", "When", "Author", "Note"})
		for i, ev := range d.Timeline {
			tw.AppendRow(table.Row{i + 1, ev.CreatedAt.UTC().Format(timeFormat), orDash(ev.Creator.Email), oneLine(ev.Content)})
		}
		b.WriteString(tw.RenderMarkdown())
		b.WriteString("\n\n")
	}

	b.WriteString("## Reviews\n\n")
	if len(d.Reviews) == 0 {
		b.WriteString("No reviews recorded.\n\n")
	} else {
		rw := table.NewWriter()
		rw.AppendHeader(table.Row{"When", "Reviewer", "Decision", "Comment"})
		for _, r := range d.Reviews {
			comment := "-"
			if r.Comment != nil {
				comment = oneLine(*r.Comment)
			}
			rw.AppendRow(table.Row{r.ReviewedAt.UTC().Format(timeFormat), orDash(r.Reviewer.Email), r.Status, comment})
		}
		b.WriteString(rw.RenderMarkdown())
		b.WriteString("\n\n")
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Timeline events: %d\n", len(d.Timeline))
	fmt.Fprintf(&b, "- Reviews: %d\n", len(d.Reviews))
	fmt.Fprintf(&b, "- Final status: %s\n", d.Status)
	return b.Bytes()
}

// Filename is a download name derived from the incident id.
func Filename(d domain.IncidentDetail) string {
	return fmt.Sprintf("postmortem-%s.md", d.ID)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
