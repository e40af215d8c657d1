package domain

// Goal statuses gate decomposition upstream; this core only stores them.
const (
	GoalDraft      = "draft"
	GoalClarified  = "clarified"
	GoalApproved   = "approved"
	GoalDecomposed = "decomposed"
	GoalDenied     = "denied"
)

const (
	QuestLocked     = "locked"
	QuestUnlocked   = "unlocked"
	QuestInProgress = "in_progress"
	QuestCompleted  = "completed"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskBlocked    = "blocked"
	TaskDone       = "done"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Condition kinds for quest unlocking. Conditions on a quest combine with AND.
const (
	CondTaskCompleted     = "task_completed"
	CondQuestCompleted    = "quest_completed"
	CondAllTasksCompleted = "all_tasks_completed"
	CondAnyTaskCompleted  = "any_task_completed"
)

type Goal struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"draft,clarified,approved,decomposed,denied"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Questline struct {
	ID        string   `json:"id"`
	OrgID     string   `json:"org_id"`
	GoalID    string   `json:"goal_id"`
	Title     string   `json:"title"`
	QuestIDs  []string `json:"quest_ids,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// UnlockCondition is one predicate in a quest's condition list. Exactly one of
// TaskID, QuestID or TaskIDs is populated depending on Kind.
type UnlockCondition struct {
	Kind    string   `json:"kind" enum:"task_completed,quest_completed,all_tasks_completed,any_task_completed"`
	TaskID  string   `json:"task_id,omitempty"`
	QuestID string   `json:"quest_id,omitempty"`
	TaskIDs []string `json:"task_ids,omitempty"`
}

type Quest struct {
	ID               string            `json:"id"`
	OrgID            string            `json:"org_id"`
	QuestlineID      string            `json:"questline_id,omitempty"`
	Title            string            `json:"title"`
	State            string            `json:"state" enum:"locked,unlocked,in_progress,completed"`
	UnlockConditions []UnlockCondition `json:"unlock_conditions,omitempty"`
	TaskIDs          []string          `json:"task_ids,omitempty"`
	Position         int               `json:"position"`
	UnlockedAt       *string           `json:"unlocked_at,omitempty" format:"date-time"`
	CompletedAt      *string           `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt        string            `json:"created_at" format:"date-time"`
	UpdatedAt        string            `json:"updated_at" format:"date-time"`
	Version          int64             `json:"version"`
}

type Task struct {
	ID               string   `json:"id"`
	OrgID            string   `json:"org_id"`
	QuestID          string   `json:"quest_id,omitempty"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Status           string   `json:"status" enum:"todo,in_progress,blocked,done"`
	Priority         string   `json:"priority" enum:"low,medium,high,urgent"`
	OwnerID          *string  `json:"owner_id,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Blockers         []string `json:"blockers,omitempty"`
	RequiresApproval bool     `json:"requires_approval"`
	ApprovedAt       *string  `json:"approved_at,omitempty" format:"date-time"`
	ApprovedBy       *string  `json:"approved_by,omitempty"`
	Position         int      `json:"position"`
	AssignmentJSON   *string  `json:"assignment_json,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
	CompletedAt      *string  `json:"completed_at,omitempty" format:"date-time"`
	Version          int64    `json:"version"`
}

// TrulyComplete reports whether a task counts as finished for unlock
// evaluation: done, and approved when approval is required.
func (t Task) TrulyComplete() bool {
	if t.Status != TaskDone {
		return false
	}
	if t.RequiresApproval && t.ApprovedAt == nil {
		return false
	}
	return true
}

// Member is an assignable agent. The three affinity fields each hold a pair of
// genius tags; see assign.Geniuses for the catalog.
type Member struct {
	ID                   string   `json:"id"`
	OrgID                string   `json:"org_id"`
	Name                 string   `json:"name"`
	Top2                 []string `json:"top2"`
	Competency2          []string `json:"competency2"`
	Frustration2         []string `json:"frustration2"`
	DailyCapacityMinutes int      `json:"daily_capacity_minutes"`
	CreatedAt            string   `json:"created_at" format:"date-time"`
	UpdatedAt            string   `json:"updated_at" format:"date-time"`
}

type DeckItem struct {
	TaskID           string  `json:"task_id"`
	Title            string  `json:"title"`
	Priority         string  `json:"priority"`
	Status           string  `json:"status"`
	OwnerID          *string `json:"owner_id,omitempty"`
	EstimatedMinutes int     `json:"estimated_minutes"`
	Score            int     `json:"score"`
}

type MemberUtilization struct {
	MemberID        string `json:"member_id"`
	PlannedMinutes  int    `json:"planned_minutes"`
	CapacityMinutes int    `json:"capacity_minutes"`
	Percent         int    `json:"percent"`
}

// DailyDeck is the derived selection for one org and one date. Regenerated
// whole on every orchestration run, never merged with a prior snapshot.
type DailyDeck struct {
	OrgID           string              `json:"org_id"`
	Date            string              `json:"date"`
	Items           []DeckItem          `json:"items"`
	TasksConsidered int                 `json:"tasks_considered"`
	Utilization     []MemberUtilization `json:"utilization,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
	GeneratedAt     string              `json:"generated_at" format:"date-time"`
}

type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	OrgID         string `json:"org_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Payload       string `json:"payload_json"`
}

// Run records one orchestration invocation.
type Run struct {
	ID             string   `json:"id"`
	OrgID          string   `json:"org_id"`
	Status         string   `json:"status" enum:"completed,failed"`
	FailedStage    string   `json:"failed_stage,omitempty"`
	QuestsUnlocked int      `json:"quests_unlocked"`
	TasksAssigned  int      `json:"tasks_assigned"`
	DeckSize       int      `json:"deck_size"`
	Warnings       []string `json:"warnings,omitempty"`
	CorrelationID  string   `json:"correlation_id"`
	StartedAt      string   `json:"started_at" format:"date-time"`
	FinishedAt     string   `json:"finished_at" format:"date-time"`
}
