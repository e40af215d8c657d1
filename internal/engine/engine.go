package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"questdeck/internal/assign"
	"questdeck/internal/config"
	"questdeck/internal/deck"
	"questdeck/internal/domain"
	"questdeck/internal/events"
	"questdeck/internal/repo"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Classifier assign.Classifier
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Classifier: assign.NewKeywordClassifier(cfg.Classifier.Keywords),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) assignWeights() assign.Weights {
	s := e.Config.Scoring
	w := assign.DefaultWeights()
	if s.Primary > 0 {
		w = assign.Weights{Primary: s.Primary, Secondary: s.Secondary, Frustration: s.Frustration, LoadPenalty: s.LoadPenalty}
	}
	return w
}

func (e Engine) deckWeights() deck.Weights {
	w := deck.DefaultWeights()
	d := e.Config.Deck
	if d.InProgressBonus > 0 {
		w.InProgressBonus = d.InProgressBonus
	}
	if d.AgeBonusCap > 0 {
		w.AgeBonusCap = d.AgeBonusCap
	}
	if d.QuickWinMinutes > 0 {
		w.QuickWinMinutes = d.QuickWinMinutes
	}
	return w
}

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	ID          string
	OrgID       string
	Title       string
	Description string
	ActorID     string
}

func (e Engine) CreateGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	if opts.OrgID == "" {
		return domain.Goal{}, errors.New("org is required")
	}
	if opts.Title == "" {
		return domain.Goal{}, errors.New("title is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	g := domain.Goal{
		ID:          deriveID(opts.ID, opts.OrgID, opts.Title, now),
		OrgID:       opts.OrgID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.GoalDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertGoal(ctx, g); err != nil {
		return domain.Goal{}, err
	}
	e.Events.Publish(ctx, "goal.created", g.OrgID, "goal", g.ID, opts.ActorID, "", events.EventPayload{"title": g.Title, "status": g.Status})
	return g, nil
}

func ensureGoalTransition(oldStatus, newStatus string) error {
	if newStatus == domain.GoalDenied && oldStatus != domain.GoalDecomposed {
		return nil
	}
	switch oldStatus {
	case domain.GoalDraft:
		if newStatus == domain.GoalClarified {
			return nil
		}
	case domain.GoalClarified:
		if newStatus == domain.GoalApproved {
			return nil
		}
	case domain.GoalApproved:
		if newStatus == domain.GoalDecomposed {
			return nil
		}
	}
	return fmt.Errorf("invalid goal status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetGoalStatus(ctx context.Context, id, status, actorID string) (domain.Goal, error) {
	g, err := e.Repo.GetGoal(ctx, id)
	if err != nil {
		return g, err
	}
	if err := ensureGoalTransition(g.Status, status); err != nil {
		return g, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateGoalStatus(ctx, id, status, now); err != nil {
		return g, err
	}
	e.Events.Publish(ctx, "goal.updated", g.OrgID, "goal", g.ID, actorID, "", events.EventPayload{"from_status": g.Status, "to_status": status})
	g.Status = status
	g.UpdatedAt = now
	return g, nil
}

// QuestlineCreateOptions are parameters for creating a questline.
type QuestlineCreateOptions struct {
	ID      string
	OrgID   string
	GoalID  string
	Title   string
	ActorID string
}

func (e Engine) CreateQuestline(ctx context.Context, opts QuestlineCreateOptions) (domain.Questline, error) {
	if opts.OrgID == "" {
		return domain.Questline{}, errors.New("org is required")
	}
	if opts.Title == "" {
		return domain.Questline{}, errors.New("title is required")
	}
	g, err := e.Repo.GetGoal(ctx, opts.GoalID)
	if err != nil {
		return domain.Questline{}, fmt.Errorf("goal %s: %w", opts.GoalID, err)
	}
	if g.OrgID != opts.OrgID {
		return domain.Questline{}, errors.New("goal in different org")
	}
	now := e.now().UTC().Format(time.RFC3339)
	ql := domain.Questline{
		ID:        deriveID(opts.ID, opts.OrgID, opts.Title, now),
		OrgID:     opts.OrgID,
		GoalID:    opts.GoalID,
		Title:     opts.Title,
		CreatedAt: now,
	}
	if err := e.Repo.InsertQuestline(ctx, ql); err != nil {
		return domain.Questline{}, err
	}
	e.Events.Publish(ctx, "questline.created", ql.OrgID, "questline", ql.ID, opts.ActorID, "", events.EventPayload{"title": ql.Title, "goal_id": ql.GoalID})
	return ql, nil
}

// QuestCreateOptions are parameters for creating a quest.
type QuestCreateOptions struct {
	ID          string
	OrgID       string
	QuestlineID string
	Title       string
	Conditions  []domain.UnlockCondition
	Position    int
	ActorID     string
}

func validateConditions(conds []domain.UnlockCondition) error {
	for i, c := range conds {
		switch c.Kind {
		case domain.CondTaskCompleted:
			if c.TaskID == "" {
				return fmt.Errorf("condition %d: task_id required", i)
			}
		case domain.CondQuestCompleted:
			if c.QuestID == "" {
				return fmt.Errorf("condition %d: quest_id required", i)
			}
		case domain.CondAllTasksCompleted, domain.CondAnyTaskCompleted:
			if len(c.TaskIDs) == 0 {
				return fmt.Errorf("condition %d: task_ids required", i)
			}
		default:
			return fmt.Errorf("condition %d: unknown kind %s", i, c.Kind)
		}
	}
	return nil
}

func (e Engine) CreateQuest(ctx context.Context, opts QuestCreateOptions) (domain.Quest, error) {
	if opts.OrgID == "" {
		return domain.Quest{}, errors.New("org is required")
	}
	if opts.Title == "" {
		return domain.Quest{}, errors.New("title is required")
	}
	if err := validateConditions(opts.Conditions); err != nil {
		return domain.Quest{}, err
	}
	if opts.QuestlineID != "" {
		ql, err := e.Repo.GetQuestline(ctx, opts.QuestlineID)
		if err != nil {
			return domain.Quest{}, fmt.Errorf("questline %s: %w", opts.QuestlineID, err)
		}
		if ql.OrgID != opts.OrgID {
			return domain.Quest{}, errors.New("questline in different org")
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	q := domain.Quest{
		ID:               deriveID(opts.ID, opts.OrgID, opts.Title, now),
		OrgID:            opts.OrgID,
		QuestlineID:      opts.QuestlineID,
		Title:            opts.Title,
		State:            domain.QuestLocked,
		UnlockConditions: opts.Conditions,
		Position:         opts.Position,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	// A quest with no conditions is never gated.
	if len(opts.Conditions) == 0 {
		q.State = domain.QuestUnlocked
		q.UnlockedAt = &now
	}
	if err := e.Repo.InsertQuest(ctx, q); err != nil {
		return domain.Quest{}, err
	}
	q.Version = 1
	e.Events.Publish(ctx, "quest.created", q.OrgID, "quest", q.ID, opts.ActorID, "", events.EventPayload{"title": q.Title, "state": q.State})
	return q, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID               string
	OrgID            string
	QuestID          string
	Title            string
	Description      string
	Priority         string
	EstimatedMinutes int
	RequiresApproval bool
	OwnerID          string
	Position         int
	ActorID          string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.OrgID == "" {
		return domain.Task{}, errors.New("org is required")
	}
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !validPriority(opts.Priority) {
		return domain.Task{}, fmt.Errorf("invalid priority %s", opts.Priority)
	}
	if opts.QuestID != "" {
		q, err := e.Repo.GetQuest(ctx, opts.QuestID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("quest %s: %w", opts.QuestID, err)
		}
		if q.OrgID != opts.OrgID {
			return domain.Task{}, errors.New("quest in different org")
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:               deriveID(opts.ID, opts.OrgID, opts.Title, now),
		OrgID:            opts.OrgID,
		QuestID:          opts.QuestID,
		Title:            opts.Title,
		Description:      opts.Description,
		Status:           domain.TaskTodo,
		Priority:         opts.Priority,
		OwnerID:          optionalString(opts.OwnerID),
		EstimatedMinutes: opts.EstimatedMinutes,
		RequiresApproval: opts.RequiresApproval,
		Position:         opts.Position,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	t.Version = 1
	e.Events.Publish(ctx, "task.created", t.OrgID, "task", t.ID, opts.ActorID, "", events.EventPayload{"title": t.Title, "status": t.Status, "priority": t.Priority})
	return t, nil
}

func validPriority(p string) bool {
	switch p {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
		return true
	}
	return false
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	if oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case domain.TaskTodo:
		if newStatus == domain.TaskInProgress || newStatus == domain.TaskBlocked || newStatus == domain.TaskDone {
			return nil
		}
	case domain.TaskInProgress:
		if newStatus == domain.TaskTodo || newStatus == domain.TaskBlocked || newStatus == domain.TaskDone {
			return nil
		}
	case domain.TaskBlocked:
		if newStatus == domain.TaskTodo || newStatus == domain.TaskInProgress {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// TaskUpdateOptions encapsulates allowed updates. ExpectedVersion is the
// caller's optimistic-concurrency token: nil opts into last-writer-wins.
type TaskUpdateOptions struct {
	ID               string
	Status           string
	Priority         string
	Owner            *string
	AddBlockers      []string
	RemoveBlockers   []string
	EstimatedMinutes *int
	ExpectedVersion  *int64
	ActorID          string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	before := t
	changed := events.EventPayload{}

	if opts.Status != "" && opts.Status != t.Status {
		if err := ensureTaskTransition(t.Status, opts.Status); err != nil {
			return t, err
		}
		changed["status"] = map[string]string{"from": t.Status, "to": opts.Status}
		t.Status = opts.Status
		if opts.Status == domain.TaskDone {
			now := e.now().UTC().Format(time.RFC3339)
			t.CompletedAt = &now
		}
	}
	if opts.Priority != "" && opts.Priority != t.Priority {
		if !validPriority(opts.Priority) {
			return t, fmt.Errorf("invalid priority %s", opts.Priority)
		}
		changed["priority"] = map[string]string{"from": t.Priority, "to": opts.Priority}
		t.Priority = opts.Priority
	}
	if opts.Owner != nil {
		changed["owner_id"] = map[string]any{"from": t.OwnerID, "to": optionalString(*opts.Owner)}
		t.OwnerID = optionalString(*opts.Owner)
	}
	if len(opts.AddBlockers) > 0 || len(opts.RemoveBlockers) > 0 {
		next := applyBlockers(t.Blockers, opts.AddBlockers, opts.RemoveBlockers)
		changed["blockers"] = map[string]any{"from": before.Blockers, "to": next}
		t.Blockers = next
	}
	if opts.EstimatedMinutes != nil && *opts.EstimatedMinutes != t.EstimatedMinutes {
		changed["estimated_minutes"] = map[string]int{"from": t.EstimatedMinutes, "to": *opts.EstimatedMinutes}
		t.EstimatedMinutes = *opts.EstimatedMinutes
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	t, err = e.Repo.UpdateTask(ctx, t, opts.ExpectedVersion)
	if err != nil {
		return t, err
	}
	e.Events.Publish(ctx, "task.updated", t.OrgID, "task", t.ID, opts.ActorID, "", changed)
	return t, nil
}

func applyBlockers(current, add, remove []string) []string {
	seen := map[string]bool{}
	var next []string
	for _, b := range current {
		if !seen[b] {
			seen[b] = true
			next = append(next, b)
		}
	}
	for _, b := range add {
		if b != "" && !seen[b] {
			seen[b] = true
			next = append(next, b)
		}
	}
	if len(remove) > 0 {
		drop := map[string]bool{}
		for _, b := range remove {
			drop[b] = true
		}
		filtered := next[:0]
		for _, b := range next {
			if !drop[b] {
				filtered = append(filtered, b)
			}
		}
		next = filtered
	}
	return next
}

// ApproveTask records approval on an approval-gated task. The task does not
// count as truly complete until this lands, even at status done.
func (e Engine) ApproveTask(ctx context.Context, taskID, actorID string, expected *int64) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if !t.RequiresApproval {
		return t, fmt.Errorf("task %s does not require approval", taskID)
	}
	if t.ApprovedAt != nil {
		return t, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	t.ApprovedAt = &now
	t.ApprovedBy = &actorID
	t.UpdatedAt = now
	t, err = e.Repo.UpdateTask(ctx, t, expected)
	if err != nil {
		return t, err
	}
	e.Events.Publish(ctx, "task.approved", t.OrgID, "task", t.ID, actorID, "", events.EventPayload{"approved_by": actorID})
	return t, nil
}

// MemberUpsertOptions are parameters for creating or updating a member.
type MemberUpsertOptions struct {
	ID                   string
	OrgID                string
	Name                 string
	Top2                 []string
	Competency2          []string
	Frustration2         []string
	DailyCapacityMinutes int
	ActorID              string
}

func (e Engine) UpsertMember(ctx context.Context, opts MemberUpsertOptions) (domain.Member, error) {
	if opts.ID == "" || opts.OrgID == "" {
		return domain.Member{}, errors.New("id and org are required")
	}
	for _, pair := range [][]string{opts.Top2, opts.Competency2, opts.Frustration2} {
		if len(pair) > 2 {
			return domain.Member{}, errors.New("affinity fields hold at most two tags")
		}
		for _, tag := range pair {
			if !validGenius(tag) {
				return domain.Member{}, fmt.Errorf("unknown genius tag %s", tag)
			}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Member{
		ID:                   opts.ID,
		OrgID:                opts.OrgID,
		Name:                 opts.Name,
		Top2:                 opts.Top2,
		Competency2:          opts.Competency2,
		Frustration2:         opts.Frustration2,
		DailyCapacityMinutes: opts.DailyCapacityMinutes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := e.Repo.UpsertMember(ctx, m); err != nil {
		return domain.Member{}, err
	}
	e.Events.Publish(ctx, "member.upserted", m.OrgID, "member", m.ID, opts.ActorID, "", events.EventPayload{"name": m.Name})
	return m, nil
}

func validGenius(tag string) bool {
	for _, g := range assign.Geniuses {
		if string(g) == tag {
			return true
		}
	}
	return false
}

// --- helpers ---

func deriveID(explicit, orgID, title, now string) string {
	if explicit != "" {
		return explicit
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(orgID+"|"+title+"|"+now)).String()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalDecision(d assign.Decision) (*string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
