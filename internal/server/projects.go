package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"greenline/internal/domain"
	"greenline/internal/engine"
	"greenline/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Name:        input.Body.Name,
			ClientName:  input.Body.ClientName,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, repo.ProjectFilters{Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project-status",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/status",
		Summary:     "Apply a batch of status dimension changes",
		Description: "The body maps dimension names (status, verification_status, execution_status, client_review_status, payment_status) to target values. The batch is validated against the resulting tuple and applied atomically.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      map[string]string `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ApplyStatusUpdate(ctx, input.ProjectID, input.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status-transitions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status/transitions",
		Summary:     "Values each dimension may move to next",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body TransitionsResponse `json:"body"`
	}, error) {
		transitions, err := e.ValidTransitions(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionsResponse `json:"body"`
		}{Body: TransitionsResponse{ProjectID: input.ProjectID, Transitions: transitions}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status-can-update",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status/can-update",
		Summary:     "Whether the checklist gate allows status updates",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body engine.StatusGate `json:"body"`
	}, error) {
		gate, err := e.StatusUpdateAllowed(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatusGate `json:"body"`
		}{Body: gate}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status/history",
		Summary:     "Dimension changes, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []engine.StatusChange `json:"body"`
	}, error) {
		history, err := e.StatusHistory(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.StatusChange `json:"body"`
		}{Body: nonNilSlice(history)}, nil
	})
}

func registerChecklist(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-checklist-item",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/checklist",
		Summary:       "Add a checklist item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      AddChecklistItemRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := e.AddChecklistItem(ctx, input.ProjectID, input.Body.Title, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checklist",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/checklist",
		Summary:     "List checklist items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.ChecklistItem `json:"body"`
	}, error) {
		items, err := e.ListChecklist(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ChecklistItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-checklist-item",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/checklist/{item_id}/verify",
		Summary:     "Mark a checklist item verified, or clear it with verified=false",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                     `path:"project_id"`
		ItemID    string                     `path:"item_id"`
		Body      VerifyChecklistItemRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		verified := true
		if input.Body.Verified != nil {
			verified = *input.Body.Verified
		}
		item, err := e.VerifyChecklistItem(ctx, input.ProjectID, input.ItemID, verified, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: item}, nil
	})
}
