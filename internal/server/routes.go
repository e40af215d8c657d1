package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"questdeck/internal/domain"
	"questdeck/internal/engine"
	"questdeck/internal/repo"
)

var defaultErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string            `path:"org_id"`
		Body  CreateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		g, err := e.CreateGoal(ctx, engine.GoalCreateOptions{
			ID:          strOr(input.Body.ID, ""),
			OrgID:       input.OrgID,
			Title:       input.Body.Title,
			Description: strOr(input.Body.Description, ""),
			ActorID:     actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/goals",
		Summary:     "List goals",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []GoalResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListGoals(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]GoalResponse, 0, len(items))
		for _, g := range items {
			res = append(res, goalResponse(g))
		}
		return &struct {
			Body []GoalResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		g, err := e.Repo.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-goal-status",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/status",
		Summary:     "Advance goal status",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		GoalID string               `path:"goal_id"`
		Body   SetGoalStatusRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		g, err := e.SetGoalStatus(ctx, input.GoalID, input.Body.Status, actorOr(input.Body.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})
}

func registerQuestlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-questline",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/questlines",
		Summary:       "Create questline",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string                 `path:"org_id"`
		Body  CreateQuestlineRequest `json:"body"`
	}) (*struct {
		Body QuestlineResponse `json:"body"`
	}, error) {
		ql, err := e.CreateQuestline(ctx, engine.QuestlineCreateOptions{
			ID:      strOr(input.Body.ID, ""),
			OrgID:   input.OrgID,
			GoalID:  input.Body.GoalID,
			Title:   input.Body.Title,
			ActorID: actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestlineResponse `json:"body"`
		}{Body: questlineResponse(ql)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-questlines",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/questlines",
		Summary:     "List questlines",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []QuestlineResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListQuestlines(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]QuestlineResponse, 0, len(items))
		for _, ql := range items {
			res = append(res, questlineResponse(ql))
		}
		return &struct {
			Body []QuestlineResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerQuests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-quest",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/quests",
		Summary:       "Create quest",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string             `path:"org_id"`
		Body  CreateQuestRequest `json:"body"`
	}) (*struct {
		Body QuestResponse `json:"body"`
	}, error) {
		q, err := e.CreateQuest(ctx, engine.QuestCreateOptions{
			ID:          strOr(input.Body.ID, ""),
			OrgID:       input.OrgID,
			QuestlineID: strOr(input.Body.QuestlineID, ""),
			Title:       input.Body.Title,
			Conditions:  conditionsFromRequest(input.Body.Conditions),
			Position:    intOr(input.Body.Position, 0),
			ActorID:     actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestResponse `json:"body"`
		}{Body: questResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quests",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/quests",
		Summary:     "List quests",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []QuestResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListQuests(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]QuestResponse, 0, len(items))
		for _, q := range items {
			res = append(res, questResponse(q))
		}
		return &struct {
			Body []QuestResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quest",
		Method:      http.MethodGet,
		Path:        "/quests/{quest_id}",
		Summary:     "Get quest",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		QuestID string `path:"quest_id"`
	}) (*struct {
		Body QuestResponse `json:"body"`
	}, error) {
		q, err := e.Repo.GetQuest(ctx, input.QuestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestResponse `json:"body"`
		}{Body: questResponse(q)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string            `path:"org_id"`
		Body  CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:               strOr(input.Body.ID, ""),
			OrgID:            input.OrgID,
			QuestID:          strOr(input.Body.QuestID, ""),
			Title:            input.Body.Title,
			Description:      strOr(input.Body.Description, ""),
			Priority:         strOr(input.Body.Priority, ""),
			EstimatedMinutes: intOr(input.Body.EstimatedMinutes, 0),
			RequiresApproval: input.Body.RequiresApproval != nil && *input.Body.RequiresApproval,
			OwnerID:          strOr(input.Body.OwnerID, ""),
			Position:         intOr(input.Body.Position, 0),
			ActorID:          actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/tasks",
		Summary:     "List tasks",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID   string `path:"org_id"`
		QuestID string `query:"quest_id"`
		Status  string `query:"status" enum:",todo,in_progress,blocked,done"`
		OwnerID string `query:"owner_id"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			OrgID:   input.OrgID,
			QuestID: input.QuestID,
			Status:  input.Status,
			OwnerID: input.OwnerID,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TaskResponse, 0, len(items))
		for _, t := range items {
			res = append(res, taskResponse(t))
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Description: "Pass expected_version to reject the write if the task moved since it was read.",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:               input.TaskID,
			Status:           strOr(input.Body.Status, ""),
			Priority:         strOr(input.Body.Priority, ""),
			Owner:            input.Body.OwnerID,
			AddBlockers:      input.Body.AddBlockers,
			RemoveBlockers:   input.Body.RemoveBlockers,
			EstimatedMinutes: input.Body.EstimatedMinutes,
			ExpectedVersion:  input.Body.ExpectedVersion,
			ActorID:          actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve task",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"task_id"`
		Body   ApproveTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if input.Body.ApproverID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "approver_id is required", nil)
		}
		t, err := e.ApproveTask(ctx, input.TaskID, input.Body.ApproverID, input.Body.ExpectedVersion)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-member",
		Method:      http.MethodPut,
		Path:        "/orgs/{org_id}/members/{member_id}",
		Summary:     "Create or update member",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID    string              `path:"org_id"`
		MemberID string              `path:"member_id"`
		Body     UpsertMemberRequest `json:"body"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		m, err := e.UpsertMember(ctx, engine.MemberUpsertOptions{
			ID:                   input.MemberID,
			OrgID:                input.OrgID,
			Name:                 input.Body.Name,
			Top2:                 input.Body.Top2,
			Competency2:          input.Body.Competency2,
			Frustration2:         input.Body.Frustration2,
			DailyCapacityMinutes: input.Body.DailyCapacityMinutes,
			ActorID:              actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: memberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/members",
		Summary:     "List members",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListMembers(ctx, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]MemberResponse, 0, len(items))
		for _, m := range items {
			res = append(res, memberResponse(m))
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "trigger-run",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/runs",
		Summary:       "Run orchestration",
		Description:   "Evaluates unlocks, assigns unowned eligible tasks and regenerates today's deck.",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
	}) (*struct {
		Body engine.RunResult `json:"body"`
	}, error) {
		res, err := e.RunOrchestration(ctx, input.OrgID, time.Time{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RunResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/runs",
		Summary:     "List runs",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []domain.Run `json:"body"`
	}, error) {
		items, err := e.Repo.ListRuns(ctx, input.OrgID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Run `json:"body"`
		}{Body: items}, nil
	})
}

func registerDecks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-deck",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/decks/{date}",
		Summary:     "Get daily deck",
		Description: "Date is YYYY-MM-DD or the literal 'today'.",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"org_id"`
		Date  string `path:"date"`
	}) (*struct {
		Body domain.DailyDeck `json:"body"`
	}, error) {
		date := input.Date
		if date == "today" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		d, err := e.Repo.GetDeck(ctx, input.OrgID, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DailyDeck `json:"body"`
		}{Body: d}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/events",
		Summary:     "List audit facts",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"org_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.OrgID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
