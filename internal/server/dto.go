package server

import (
	"time"

	"incidentline/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateIncidentRequest struct {
	Title    string   `json:"title"`
	Severity string   `json:"severity" enum:"P1,P2,P3,P4"`
	Tags     []string `json:"tags,omitempty"`
}

// UpdateIncidentRequest lists status and created_by only so they can be
// refused with a clear message; neither is editable.
type UpdateIncidentRequest struct {
	Title     *string   `json:"title,omitempty"`
	Severity  *string   `json:"severity,omitempty" enum:"P1,P2,P3,P4"`
	Tags      *[]string `json:"tags,omitempty"`
	Status    *string   `json:"status,omitempty" doc:"Not editable; use the review endpoint"`
	CreatedBy *string   `json:"created_by,omitempty" doc:"Not editable"`
}

type AddTimelineRequest struct {
	Content string `json:"content"`
}

type SubmitReviewRequest struct {
	Status  string  `json:"status" enum:"OPEN,IN_REVIEW,APPROVED,REJECTED"`
	Comment *string `json:"comment,omitempty"`
}

type CreateShareLinkRequest struct {
	ExpiresAt time.Time `json:"expires_at" format:"date-time"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status"`
}

type SharedIncidentResponse struct {
	Incident  domain.IncidentDetail `json:"incident"`
	ExpiresAt time.Time             `json:"expires_at"`
	CreatedAt time.Time             `json:"created_at"`
}

type EventsResponse struct {
	Items []domain.Event `json:"items"`
}
