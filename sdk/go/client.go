package incidentlinesdk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultAPIPath = "v1"

// Client is a minimal Incidentline HTTP API client.
type Client struct {
	BaseURL     string
	APIPath     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIPath: defaultAPIPath,
		Timeout: 10 * time.Second,
	}
}

type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Incident represents the API incident model.
type Incident struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Severity      string    `json:"severity"`
	Status        string    `json:"status"`
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
	Status     string    `json:"status"`
	Comment    *string   `json:"comment,omitempty"`
	ReviewedBy string    `json:"reviewed_by"`
	Reviewer   UserRef   `json:"reviewer"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// IncidentDetail is an incident with its timeline and reviews.
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

type ReviewResult struct {
	Incident Incident `json:"incident"`
	Review   Review   `json:"review"`
}

type ShareLink struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Token      string    `json:"token"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// SharedIncident is what an anonymous share-link holder reads.
type SharedIncident struct {
	Incident  IncidentDetail `json:"incident"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
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

// ListOptions filter incident listings. Zero values are omitted.
type ListOptions struct {
	Search   string
	Severity string
	Status   string
	Tags     []string
	DateFrom string
	DateTo   string
	Page     int
	Limit    int
}

// IncidentUpdate carries the fields to change; nil leaves a field as is.
type IncidentUpdate struct {
	Title    *string   `json:"title,omitempty"`
	Severity *string   `json:"severity,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var resp LoginResult
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]string{"email": email, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.Token
	}
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "stats", nil, &resp)
	return resp, err
}

// CreateIncident reports an incident.
func (c *Client) CreateIncident(ctx context.Context, title, severity string, tags []string) (Incident, error) {
	body := map[string]any{
		"title":    title,
		"severity": severity,
	}
	if len(tags) > 0 {
		body["tags"] = tags
	}
	var resp Incident
	err := c.do(ctx, http.MethodPost, "incidents", body, &resp)
	return resp, err
}

func (c *Client) ListIncidents(ctx context.Context, opts ListOptions) (IncidentPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("search", opts.Search)
	set("severity", opts.Severity)
	set("status", opts.Status)
	set("tags", strings.Join(opts.Tags, ","))
	set("dateFrom", opts.DateFrom)
	set("dateTo", opts.DateTo)
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := "incidents"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp IncidentPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetIncident(ctx context.Context, id string) (IncidentDetail, error) {
	var resp IncidentDetail
	err := c.do(ctx, http.MethodGet, incidentPath(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateIncident(ctx context.Context, id string, upd IncidentUpdate) (Incident, error) {
	var resp Incident
	err := c.do(ctx, http.MethodPut, incidentPath(id), upd, &resp)
	return resp, err
}

func (c *Client) DeleteIncident(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, incidentPath(id), nil, nil)
}

func (c *Client) AddTimelineEvent(ctx context.Context, id, content string) (TimelineEvent, error) {
	var resp TimelineEvent
	err := c.do(ctx, http.MethodPost, incidentPath(id, "timeline"), map[string]string{"content": content}, &resp)
	return resp, err
}

// SubmitReview moves the incident to status. An empty comment is omitted.
func (c *Client) SubmitReview(ctx context.Context, id, status, comment string) (ReviewResult, error) {
	body := map[string]any{"status": status}
	if comment != "" {
		body["comment"] = comment
	}
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, incidentPath(id, "review"), body, &resp)
	return resp, err
}

func (c *Client) CreateShareLink(ctx context.Context, id string, expiresAt time.Time) (ShareLink, error) {
	var resp ShareLink
	err := c.do(ctx, http.MethodPost, incidentPath(id, "share"), map[string]any{"expires_at": expiresAt.UTC().Format(time.RFC3339Nano)}, &resp)
	return resp, err
}

// ResolveShareLink reads a shared incident; no token is sent.
func (c *Client) ResolveShareLink(ctx context.Context, token string) (SharedIncident, error) {
	anon := *c
	anon.BearerToken = ""
	var resp SharedIncident
	err := anon.do(ctx, http.MethodGet, "share/"+url.PathEscape(token), nil, &resp)
	return resp, err
}

// RevokeShareLink deletes a link. With an incident id the link must belong to
// that incident.
func (c *Client) RevokeShareLink(ctx context.Context, incidentID, token string) error {
	endpoint := "share/" + url.PathEscape(token)
	if incidentID != "" {
		endpoint = incidentPath(incidentID, "share", token)
	}
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// Postmortem downloads the markdown postmortem of an incident.
func (c *Client) Postmortem(ctx context.Context, id string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, incidentPath(id, "postmortem"), nil, &buf)
	return buf.Bytes(), err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
	}
	return e
}

func incidentPath(id string, rest ...string) string {
	parts := []string{"incidents", url.PathEscape(id)}
	for _, p := range rest {
		parts = append(parts, url.PathEscape(p))
	}
	return strings.Join(parts, "/")
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	apiPath := strings.Trim(c.APIPath, "/")
	if apiPath == "" {
		return base
	}
	return base + "/" + apiPath
}

// VerifyWebhook reports whether signature (the X-Incidentline-Signature
// header) matches body and timestamp (X-Incidentline-Timestamp) under secret.
func VerifyWebhook(secret, timestamp string, body []byte, signature string) bool {
	got, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	sum, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hmac.Equal(sum, mac.Sum(nil))
}
