package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"greenline/internal/domain"
	"greenline/internal/engine"
	"greenline/internal/repo"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			DueDate:     input.Body.DueDate,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks with their derived SLA status",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Status     string `query:"status"`
		AssigneeID string `query:"assignee_id"`
		Locked     string `query:"locked" doc:"true or false"`
		SLAStatus  string `query:"sla_status" enum:"on_track,due_today,overdue"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		locked, perr := parseBoolFilter("locked", input.Locked)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListTasks(ctx, engine.TaskQuery{
			TaskFilters: repo.TaskFilters{
				ProjectID:  input.ProjectID,
				Status:     input.Status,
				AssigneeID: input.AssigneeID,
				Locked:     locked,
				Limit:      input.Limit,
			},
			SLAStatus: input.SLAStatus,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Move a task along its status graph",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusLocked},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   SetTaskStatusRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := engineFor(ctx, e).SetTaskStatus(ctx, input.TaskID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/reassign",
		Summary:     "Change the assignee; an empty assignee unassigns",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusLocked},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   ReassignTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := engineFor(ctx, e).ReassignTask(ctx, input.TaskID, input.Body.AssigneeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "manual-lock-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/manual-lock",
		Summary:     "Lock a task now",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := engineFor(ctx, e).ManualLock(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "direct-unlock-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/direct-unlock",
		Summary:     "Unlock a task without a request",
		Description: "Any pending unlock request for the task is resolved as approved.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := engineFor(ctx, e).DirectUnlock(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})
}

type unlockRequestBody struct {
	Body domain.UnlockRequest `json:"body"`
}

func registerUnlockRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-unlock-request",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/unlock-requests",
		Summary:       "Ask for a locked task to be unlocked",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   UnlockRequestRequest `json:"body"`
	}) (*unlockRequestBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := engineFor(ctx, e).RequestUnlock(ctx, input.TaskID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &unlockRequestBody{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-unlock-requests",
		Method:      http.MethodGet,
		Path:        "/unlock-requests",
		Summary:     "List unlock requests, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TaskID      string `query:"task_id"`
		Status      string `query:"status"`
		RequestedBy string `query:"requested_by"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []domain.UnlockRequest `json:"body"`
	}, error) {
		items, err := e.ListUnlockRequests(ctx, repo.UnlockRequestFilters{
			TaskID:      input.TaskID,
			Status:      input.Status,
			RequestedBy: input.RequestedBy,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.UnlockRequest `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unlock-request",
		Method:      http.MethodGet,
		Path:        "/unlock-requests/{request_id}",
		Summary:     "Get unlock request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*unlockRequestBody, error) {
		req, err := e.GetUnlockRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &unlockRequestBody{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-unlock-request",
		Method:      http.MethodPatch,
		Path:        "/unlock-requests/{request_id}/review",
		Summary:     "Approve or reject an unlock request",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string              `path:"request_id"`
		Body      ReviewUnlockRequest `json:"body"`
	}) (*unlockRequestBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := engineFor(ctx, e).ReviewUnlockRequest(ctx, input.RequestID, input.Body.Decision, actorID, input.Body.ReviewNote)
		if err != nil {
			return nil, handleError(err)
		}
		return &unlockRequestBody{Body: req}, nil
	})
}
