package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"incidentline/internal/engine"
)

func registerShareLinks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-share-link",
		Method:        http.MethodPost,
		Path:          "/incidents/{id}/share",
		Summary:       "Create a read-only share link (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        incidentErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body CreateShareLinkRequest `json:"body"`
	}) (*struct {
		Body engine.ShareLinkResult `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		link, err := e.CreateShareLink(ctx, actor, input.ID, input.Body.ExpiresAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ShareLinkResult `json:"body"`
		}{Body: link}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-incident-share-link",
		Method:        http.MethodDelete,
		Path:          "/incidents/{id}/share/{token}",
		Summary:       "Revoke a share link of the incident (admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        incidentErrors,
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Token string `path:"token"`
	}) (*struct{}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeShareLink(ctx, actor, input.ID, input.Token); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-share-link",
		Method:      http.MethodGet,
		Path:        "/share/{token}",
		Summary:     "Read a shared incident",
		Description: "No authentication; the token is the credential. Expired links answer 410.",
		Errors:      []int{http.StatusNotFound, http.StatusGone, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct {
		Body SharedIncidentResponse `json:"body"`
	}, error) {
		shared, err := e.ResolveShareLink(ctx, input.Token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SharedIncidentResponse `json:"body"`
		}{Body: SharedIncidentResponse{
			Incident:  shared.Detail,
			ExpiresAt: shared.Link.ExpiresAt,
			CreatedAt: shared.Link.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-share-link",
		Method:        http.MethodDelete,
		Path:          "/share/{token}",
		Summary:       "Revoke a share link by token (admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        incidentErrors,
	}, func(ctx context.Context, input *struct {
		Token string `path:"token"`
	}) (*struct{}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeShareLinkByToken(ctx, actor, input.Token); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
