package server

import (
	"encoding/json"

	"questdeck/internal/domain"
)

// Request payloads

type CreateGoalRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	ActorID     *string `json:"actor_id,omitempty"`
}

type SetGoalStatusRequest struct {
	Status  string  `json:"status" enum:"draft,clarified,approved,decomposed,denied"`
	ActorID *string `json:"actor_id,omitempty"`
}

type CreateQuestlineRequest struct {
	ID      *string `json:"id,omitempty"`
	GoalID  string  `json:"goal_id"`
	Title   string  `json:"title"`
	ActorID *string `json:"actor_id,omitempty"`
}

type UnlockConditionRequest struct {
	Kind    string   `json:"kind" enum:"task_completed,quest_completed,all_tasks_completed,any_task_completed"`
	TaskID  *string  `json:"task_id,omitempty"`
	QuestID *string  `json:"quest_id,omitempty"`
	TaskIDs []string `json:"task_ids,omitempty"`
}

type CreateQuestRequest struct {
	ID          *string                  `json:"id,omitempty"`
	QuestlineID *string                  `json:"questline_id,omitempty"`
	Title       string                   `json:"title"`
	Conditions  []UnlockConditionRequest `json:"unlock_conditions,omitempty"`
	Position    *int                     `json:"position,omitempty"`
	ActorID     *string                  `json:"actor_id,omitempty"`
}

type CreateTaskRequest struct {
	ID               *string `json:"id,omitempty"`
	QuestID          *string `json:"quest_id,omitempty"`
	Title            string  `json:"title"`
	Description      *string `json:"description,omitempty"`
	Priority         *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
	RequiresApproval *bool   `json:"requires_approval,omitempty"`
	OwnerID          *string `json:"owner_id,omitempty"`
	Position         *int    `json:"position,omitempty"`
	ActorID          *string `json:"actor_id,omitempty"`
}

type UpdateTaskRequest struct {
	Status           *string  `json:"status,omitempty" enum:"todo,in_progress,blocked,done"`
	Priority         *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	OwnerID          *string  `json:"owner_id,omitempty"`
	AddBlockers      []string `json:"add_blockers,omitempty"`
	RemoveBlockers   []string `json:"remove_blockers,omitempty"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
	ExpectedVersion  *int64   `json:"expected_version,omitempty"`
	ActorID          *string  `json:"actor_id,omitempty"`
}

type ApproveTaskRequest struct {
	ApproverID      string `json:"approver_id"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type UpsertMemberRequest struct {
	Name                 string   `json:"name"`
	Top2                 []string `json:"top2,omitempty"`
	Competency2          []string `json:"competency2,omitempty"`
	Frustration2         []string `json:"frustration2,omitempty"`
	DailyCapacityMinutes int      `json:"daily_capacity_minutes"`
	ActorID              *string  `json:"actor_id,omitempty"`
}

// Response payloads

type GoalResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type QuestlineResponse struct {
	ID        string   `json:"id"`
	OrgID     string   `json:"org_id"`
	GoalID    string   `json:"goal_id"`
	Title     string   `json:"title"`
	QuestIDs  []string `json:"quest_ids,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type QuestResponse struct {
	ID               string                   `json:"id"`
	OrgID            string                   `json:"org_id"`
	QuestlineID      string                   `json:"questline_id,omitempty"`
	Title            string                   `json:"title"`
	State            string                   `json:"state"`
	UnlockConditions []domain.UnlockCondition `json:"unlock_conditions,omitempty"`
	TaskIDs          []string                 `json:"task_ids,omitempty"`
	Position         int                      `json:"position"`
	Version          int64                    `json:"version"`
	UnlockedAt       *string                  `json:"unlocked_at,omitempty" format:"date-time"`
	CompletedAt      *string                  `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt        string                   `json:"created_at" format:"date-time"`
	UpdatedAt        string                   `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID               string          `json:"id"`
	OrgID            string          `json:"org_id"`
	QuestID          string          `json:"quest_id,omitempty"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Status           string          `json:"status"`
	Priority         string          `json:"priority"`
	OwnerID          *string         `json:"owner_id,omitempty"`
	EstimatedMinutes int             `json:"estimated_minutes"`
	Blockers         []string        `json:"blockers,omitempty"`
	RequiresApproval bool            `json:"requires_approval"`
	ApprovedAt       *string         `json:"approved_at,omitempty" format:"date-time"`
	ApprovedBy       *string         `json:"approved_by,omitempty"`
	Assignment       json.RawMessage `json:"assignment,omitempty"`
	Version          int64           `json:"version"`
	CompletedAt      *string         `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt        string          `json:"created_at" format:"date-time"`
	UpdatedAt        string          `json:"updated_at" format:"date-time"`
}

type MemberResponse struct {
	ID                   string   `json:"id"`
	OrgID                string   `json:"org_id"`
	Name                 string   `json:"name"`
	Top2                 []string `json:"top2,omitempty"`
	Competency2          []string `json:"competency2,omitempty"`
	Frustration2         []string `json:"frustration2,omitempty"`
	DailyCapacityMinutes int      `json:"daily_capacity_minutes"`
}

type EventResponse struct {
	ID            int64           `json:"id"`
	TS            string          `json:"ts" format:"date-time"`
	Type          string          `json:"type"`
	OrgID         string          `json:"org_id,omitempty"`
	EntityKind    string          `json:"entity_kind"`
	EntityID      string          `json:"entity_id,omitempty"`
	ActorID       string          `json:"actor_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func goalResponse(g domain.Goal) GoalResponse {
	return GoalResponse{
		ID: g.ID, OrgID: g.OrgID, Title: g.Title, Description: g.Description,
		Status: g.Status, CreatedAt: g.CreatedAt, UpdatedAt: g.UpdatedAt,
	}
}

func questlineResponse(ql domain.Questline) QuestlineResponse {
	return QuestlineResponse{
		ID: ql.ID, OrgID: ql.OrgID, GoalID: ql.GoalID, Title: ql.Title,
		QuestIDs: ql.QuestIDs, CreatedAt: ql.CreatedAt,
	}
}

func questResponse(q domain.Quest) QuestResponse {
	return QuestResponse{
		ID: q.ID, OrgID: q.OrgID, QuestlineID: q.QuestlineID, Title: q.Title,
		State: q.State, UnlockConditions: q.UnlockConditions, TaskIDs: q.TaskIDs,
		Position: q.Position, Version: q.Version,
		UnlockedAt: q.UnlockedAt, CompletedAt: q.CompletedAt,
		CreatedAt: q.CreatedAt, UpdatedAt: q.UpdatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	r := TaskResponse{
		ID: t.ID, OrgID: t.OrgID, QuestID: t.QuestID, Title: t.Title,
		Description: t.Description, Status: t.Status, Priority: t.Priority,
		OwnerID: t.OwnerID, EstimatedMinutes: t.EstimatedMinutes,
		Blockers: t.Blockers, RequiresApproval: t.RequiresApproval,
		ApprovedAt: t.ApprovedAt, ApprovedBy: t.ApprovedBy,
		Version: t.Version, CompletedAt: t.CompletedAt,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
	if t.AssignmentJSON != nil {
		r.Assignment = json.RawMessage(*t.AssignmentJSON)
	}
	return r
}

func memberResponse(m domain.Member) MemberResponse {
	return MemberResponse{
		ID: m.ID, OrgID: m.OrgID, Name: m.Name,
		Top2: m.Top2, Competency2: m.Competency2, Frustration2: m.Frustration2,
		DailyCapacityMinutes: m.DailyCapacityMinutes,
	}
}

func eventResponse(e domain.Event) EventResponse {
	r := EventResponse{
		ID: e.ID, TS: e.TS, Type: e.Type, OrgID: e.OrgID,
		EntityKind: e.EntityKind, EntityID: e.EntityID,
		ActorID: e.ActorID, CorrelationID: e.CorrelationID,
	}
	if e.Payload != "" {
		r.Payload = json.RawMessage(e.Payload)
	}
	return r
}

func conditionsFromRequest(reqs []UnlockConditionRequest) []domain.UnlockCondition {
	var conds []domain.UnlockCondition
	for _, rc := range reqs {
		c := domain.UnlockCondition{Kind: rc.Kind, TaskIDs: rc.TaskIDs}
		if rc.TaskID != nil {
			c.TaskID = *rc.TaskID
		}
		if rc.QuestID != nil {
			c.QuestID = *rc.QuestID
		}
		conds = append(conds, c)
	}
	return conds
}

func strOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func actorOr(p *string) string {
	return strOr(p, "api")
}
