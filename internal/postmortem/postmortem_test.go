package postmortem

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"incidentline/internal/domain"
)

func TestRenderIncludesSections(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	comment := "root cause fixed"
	d := domain.IncidentDetail{
		Incident: domain.Incident{
			ID:        "inc-1",
			Title:     "Checkout outage",
			Severity:  domain.SeverityP1,
			Status:    domain.StatusApproved,
			Tags:      []string{"payments", "api"},
			Creator:   domain.UserRef{ID: "u1", Email: "reporter@example.com"},
			CreatedAt: at,
			UpdatedAt: at.Add(time.Hour),
		},
		Timeline: []domain.TimelineEvent{
			{ID: "t1", Content: "Alert fired", Creator: domain.UserRef{Email: "reporter@example.com"}, CreatedAt: at},
			{ID: "t2", Content: "Rolled back\ndeploy", Creator: domain.UserRef{Email: "reporter@example.com"}, CreatedAt: at.Add(10 * time.Minute)},
		},
		Reviews: []domain.Review{
			{ID: "r1", Status: domain.StatusApproved, Comment: &comment, Reviewer: domain.UserRef{Email: "reviewer@example.com"}, ReviewedAt: at.Add(time.Hour)},
		},
	}

	out := string(Render(d, at))
	for _, want := range []string{
		"# Postmortem: Checkout outage",
		"payments, api",
		"Five Whys",
		"Alert fired",
		"Rolled back deploy",
		"root cause fixed",
		"- Timeline events: 2",
		"- Reviews: 1",
	} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "Alert fired"), strings.Index(out, "Rolled back deploy"))
	assert.Equal(t, "postmortem-inc-1.md", Filename(d))
}

func TestRenderEmptyIncident(t *testing.T) {
	out := string(Render(domain.IncidentDetail{Incident: domain.Incident{ID: "x", Title: "Quiet"}}, time.Now()))
	assert.Contains(t, out, "No timeline events recorded.")
	assert.Contains(t, out, "No reviews recorded.")
}
