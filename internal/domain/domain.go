package domain

import "time"

type Role string

const (
	RoleReporter Role = "REPORTER"
	RoleReviewer Role = "REVIEWER"
	RoleAdmin    Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleReporter, RoleReviewer, RoleAdmin:
		return true
	}
	return false
}

type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityP1, SeverityP2, SeverityP3, SeverityP4:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusInReview Status = "IN_REVIEW"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role" enum:"REPORTER,REVIEWER,ADMIN"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRef is the public projection of a user embedded in other records.
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Email string
	Role  Role
}

type Incident struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Severity      Severity  `json:"severity" enum:"P1,P2,P3,P4"`
	Status        Status    `json:"status" enum:"OPEN,IN_REVIEW,APPROVED,REJECTED"`
	Tags          []string  `json:"tags"`
	CreatedBy     string    `json:"created_by"`
	Creator       UserRef   `json:"creator"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	TimelineCount int       `json:"timeline_count"`
	ReviewCount   int       `json:"review_count"`
}

type TimelineEvent struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Content    string    `json:"content"`
	CreatedBy  string    `json:"created_by"`
	Creator    UserRef   `json:"creator"`
	CreatedAt  time.Time `json:"created_at"`
}

type Review struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Status     Status    `json:"status"`
	Comment    *string   `json:"comment,omitempty"`
	ReviewedBy string    `json:"reviewed_by"`
	Reviewer   UserRef   `json:"reviewer"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

type ShareLink struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the link lapsed strictly before now.
func (l ShareLink) Expired(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// IncidentDetail is an incident with its timeline (oldest first) and
// reviews (newest first).
type IncidentDetail struct {
	Incident
	Timeline []TimelineEvent `json:"timeline"`
	Reviews  []Review        `json:"reviews"`
}

type IncidentPage struct {
	Items      []Incident `json:"items"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}

type Event struct {
	ID         string    `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    string    `json:"payload_json"`
}

type Stats struct {
	TotalUsers  int `json:"total_users"`
	MyIncidents int `json:"my_incidents"`
}

type Profile struct {
	User            User       `json:"user"`
	IncidentCount   int        `json:"incident_count"`
	TimelineCount   int        `json:"timeline_count"`
	ReviewCount     int        `json:"review_count"`
	RecentIncidents []Incident `json:"recent_incidents"`
}
