package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"incidentline/internal/domain"
	"incidentline/internal/engine"
)

type incidentPath struct {
	ID string `path:"id"`
}

var incidentErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerIncidents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-incident",
		Method:        http.MethodPost,
		Path:          "/incidents",
		Summary:       "Report an incident",
		DefaultStatus: http.StatusCreated,
		Errors:        incidentErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateIncidentRequest `json:"body"`
	}) (*struct {
		Body domain.Incident `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inc, err := e.CreateIncident(ctx, actor, engine.IncidentCreateOptions{
			Title:    input.Body.Title,
			Severity: domain.Severity(input.Body.Severity),
			Tags:     input.Body.Tags,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Incident `json:"body"`
		}{Body: inc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/incidents",
		Summary:     "List incidents",
		Description: "Reporters only see incidents they created. Search matches title, exact tag or timeline content.",
		Errors:      incidentErrors,
	}, func(ctx context.Context, input *struct {
		Search   string `query:"search"`
		Severity string `query:"severity"`
		Status   string `query:"status"`
		Tags     string `query:"tags" doc:"Comma separated; matches incidents having any of them"`
		DateFrom string `query:"dateFrom" doc:"YYYY-MM-DD or RFC 3339"`
		DateTo   string `query:"dateTo" doc:"YYYY-MM-DD (whole day) or RFC 3339"`
		Page     string `query:"page"`
		Limit    string `query:"limit"`
	}) (*struct {
		Body domain.IncidentPage `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := parseIntParam("page", input.Page)
		if err != nil {
			return nil, handleError(err)
		}
		limit, err := parseIntParam("limit", input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		from, err := parseDateParam("dateFrom", input.DateFrom, false)
		if err != nil {
			return nil, handleError(err)
		}
		to, err := parseDateParam("dateTo", input.DateTo, true)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.ListIncidents(ctx, actor, engine.IncidentListOptions{
			Search:   input.Search,
			Severity: domain.Severity(input.Severity),
			Status:   domain.Status(input.Status),
			Tags:     splitList(input.Tags),
			From:     from,
			To:       to,
			Page:     page,
			Limit:    limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IncidentPage `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-incident",
		Method:      http.MethodGet,
		Path:        "/incidents/{id}",
		Summary:     "Get incident with timeline and reviews",
		Errors:      incidentErrors,
	}, func(ctx context.Context, input *incidentPath) (*struct {
		Body domain.IncidentDetail `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetIncident(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IncidentDetail `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-incident",
		Method:      http.MethodPut,
		Path:        "/incidents/{id}",
		Summary:     "Edit title, severity or tags",
		Errors:      incidentErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateIncidentRequest `json:"body"`
	}) (*struct {
		Body domain.Incident `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := rawBodyMap(ctx)
		for _, field := range []string{"status", "created_by"} {
			if _, ok := raw[field]; ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("%s is not editable", field), map[string]any{"field": field})
			}
		}
		for _, field := range []string{"title", "severity", "tags"} {
			if v, ok := raw[field]; ok && isNullRaw(v) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("%s must not be null", field), map[string]any{"field": field})
			}
		}
		opts := engine.IncidentUpdateOptions{
			ID:    input.ID,
			Title: input.Body.Title,
			Tags:  input.Body.Tags,
		}
		if input.Body.Severity != nil {
			sev := domain.Severity(*input.Body.Severity)
			opts.Severity = &sev
		}
		inc, err := e.EditIncident(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Incident `json:"body"`
		}{Body: inc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-incident",
		Method:        http.MethodDelete,
		Path:          "/incidents/{id}",
		Summary:       "Delete incident (admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        incidentErrors,
	}, func(ctx context.Context, input *incidentPath) (*struct{}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteIncident(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-timeline-event",
		Method:        http.MethodPost,
		Path:          "/incidents/{id}/timeline",
		Summary:       "Append a timeline entry",
		DefaultStatus: http.StatusCreated,
		Errors:        incidentErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AddTimelineRequest `json:"body"`
	}) (*struct {
		Body domain.TimelineEvent `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.AddTimelineEvent(ctx, actor, input.ID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TimelineEvent `json:"body"`
		}{Body: ev}, nil
	})
}

func registerReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-review",
		Method:      http.MethodPost,
		Path:        "/incidents/{id}/review",
		Summary:     "Move the incident along the review workflow",
		Description: "OPEN -> IN_REVIEW -> APPROVED | REJECTED. Reviewers and admins only.",
		Errors:      incidentErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SubmitReviewRequest `json:"body"`
	}) (*struct {
		Body engine.ReviewResult `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ReviewOptions{IncidentID: input.ID, Status: domain.Status(input.Body.Status)}
		if input.Body.Comment != nil {
			opts.Comment = *input.Body.Comment
		}
		res, err := e.SubmitReview(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReviewResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerPostmortem(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-postmortem",
		Method:      http.MethodGet,
		Path:        "/incidents/{id}/postmortem",
		Summary:     "Download a markdown postmortem",
		Errors:      incidentErrors,
	}, func(ctx context.Context, input *incidentPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, name, err := e.ExportPostmortem(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "text/markdown; charset=utf-8",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
			Body:               doc,
		}, nil
	})
}
