package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"questdeck/internal/assign"
	"questdeck/internal/deck"
	"questdeck/internal/domain"
	"questdeck/internal/events"
	"questdeck/internal/repo"
	"questdeck/internal/unlock"
)

// RunResult summarizes one orchestration pass over an org.
type RunResult struct {
	RunID           string   `json:"run_id"`
	CorrelationID   string   `json:"correlation_id"`
	QuestsUnlocked  []string `json:"quests_unlocked,omitempty"`
	QuestsCompleted []string `json:"quests_completed,omitempty"`
	TasksAssigned   []string `json:"tasks_assigned,omitempty"`
	ReadySoon       []string `json:"ready_soon,omitempty"`
	DeckSize        int      `json:"deck_size"`
	Warnings        []string `json:"warnings,omitempty"`
}

// RunOrchestration executes the three stages in order: unlock evaluation,
// assignment of unowned eligible tasks, deck generation. Stages run against
// fresh reads so each sees the previous stage's writes. A failed stage aborts
// the run; earlier stages stay committed and a later run converges, since
// every stage is idempotent on unchanged input. A zero now falls back to the
// engine clock.
func (e Engine) RunOrchestration(ctx context.Context, orgID string, now time.Time) (RunResult, error) {
	if orgID == "" {
		return RunResult{}, errors.New("org is required")
	}
	if now.IsZero() {
		now = e.now()
	}
	start := now.UTC()
	nowStr := start.Format(time.RFC3339)
	res := RunResult{
		// Runs are occurrences, not derivable records; a random ID keeps
		// history intact when two runs share a timestamp.
		RunID:         uuid.NewString(),
		CorrelationID: uuid.NewString(),
	}

	fail := func(stage string, err error) (RunResult, error) {
		e.recordRun(ctx, orgID, res, start, stage)
		return res, fmt.Errorf("%s stage: %w", stage, err)
	}

	// Stage 1: unlock evaluation.
	quests, err := e.Repo.ListQuests(ctx, orgID)
	if err != nil {
		return fail("unlock", err)
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{OrgID: orgID})
	if err != nil {
		return fail("unlock", err)
	}

	loadedVersion := make(map[string]int64, len(quests))
	for _, q := range quests {
		loadedVersion[q.ID] = q.Version
	}

	updated, changes := unlock.Evaluate(quests, tasks, nowStr)
	conflicted := map[string]bool{}
	written := map[string]bool{}
	for _, ch := range changes {
		if written[ch.QuestID] || conflicted[ch.QuestID] {
			continue
		}
		q, ok := findQuest(updated, ch.QuestID)
		if !ok {
			continue
		}
		expected := loadedVersion[ch.QuestID]
		if _, err := e.Repo.UpdateQuest(ctx, q, &expected); err != nil {
			var ce *repo.ConflictError
			if errors.As(err, &ce) {
				// Someone else moved this quest since our read. Its
				// transitions are monotone, so skipping here is safe;
				// the next run re-evaluates from the fresher state.
				conflicted[ch.QuestID] = true
				res.Warnings = append(res.Warnings, fmt.Sprintf("quest %s changed concurrently, unlock deferred", ch.QuestID))
				continue
			}
			return fail("unlock", err)
		}
		written[ch.QuestID] = true
	}
	for _, ch := range changes {
		if conflicted[ch.QuestID] {
			continue
		}
		evt := transitionEvent(ch.To)
		e.Events.Publish(ctx, evt, orgID, "quest", ch.QuestID, "orchestrator", res.CorrelationID, events.EventPayload{"from": ch.From, "to": ch.To})
		switch ch.To {
		case domain.QuestUnlocked:
			res.QuestsUnlocked = append(res.QuestsUnlocked, ch.QuestID)
		case domain.QuestCompleted:
			res.QuestsCompleted = append(res.QuestsCompleted, ch.QuestID)
		}
	}

	// Stage 2: assignment over the post-unlock state.
	quests, err = e.Repo.ListQuests(ctx, orgID)
	if err != nil {
		return fail("assign", err)
	}
	tasks, err = e.Repo.ListTasks(ctx, repo.TaskFilters{OrgID: orgID})
	if err != nil {
		return fail("assign", err)
	}
	members, err := e.Repo.ListMembers(ctx, orgID)
	if err != nil {
		return fail("assign", err)
	}
	workload, err := e.Repo.WorkloadMinutes(ctx, orgID)
	if err != nil {
		return fail("assign", err)
	}

	questIndex := make(map[string]domain.Quest, len(quests))
	for _, q := range quests {
		questIndex[q.ID] = q
	}
	var unowned []domain.Task
	for _, t := range tasks {
		if t.OwnerID == nil && deck.Eligible(t, questIndex) {
			unowned = append(unowned, t)
		}
	}
	candidates := make([]assign.Candidate, 0, len(members))
	for _, m := range members {
		candidates = append(candidates, assign.Candidate{Member: m, WorkloadMinutes: workload[m.ID]})
	}

	decisions := assign.AssignBatch(unowned, candidates, e.Classifier, e.assignWeights())
	skipped := 0
	for i, d := range decisions {
		if d.OwnerID == "" {
			skipped++
			continue
		}
		t := unowned[i]
		owner := d.OwnerID
		t.OwnerID = &owner
		t.UpdatedAt = nowStr
		raw, err := marshalDecision(d)
		if err != nil {
			return fail("assign", err)
		}
		t.AssignmentJSON = raw
		if _, err := e.Repo.UpdateTask(ctx, t, nil); err != nil {
			return fail("assign", err)
		}
		e.Events.Publish(ctx, "task.assigned", orgID, "task", t.ID, "orchestrator", res.CorrelationID, events.EventPayload{
			"owner_id": owner,
			"tag":      string(d.Tag),
			"score":    topScore(d),
		})
		res.TasksAssigned = append(res.TasksAssigned, t.ID)
	}
	if skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d tasks left unassigned, no usable candidates", skipped))
	}

	// Stage 3: deck generation over the post-assignment state.
	tasks, err = e.Repo.ListTasks(ctx, repo.TaskFilters{OrgID: orgID})
	if err != nil {
		return fail("deck", err)
	}
	d := deck.Generate(deck.Input{
		OrgID:   orgID,
		Date:    start.Format("2006-01-02"),
		Now:     start,
		Tasks:   tasks,
		Quests:  quests,
		Members: members,
		MinSize: e.Config.Deck.MinSize,
		MaxSize: e.Config.Deck.MaxSize,
		Weights: e.deckWeights(),
	})
	if err := e.Repo.ReplaceDeck(ctx, d); err != nil {
		return fail("deck", err)
	}
	e.Events.Publish(ctx, "deck.generated", orgID, "deck", d.Date, "orchestrator", res.CorrelationID, events.EventPayload{
		"size":             len(d.Items),
		"tasks_considered": d.TasksConsidered,
		"warnings":         d.Warnings,
	})
	res.DeckSize = len(d.Items)
	res.Warnings = append(res.Warnings, d.Warnings...)
	res.ReadySoon = unlock.ReadySoon(quests, tasks, e.Config.Orchestration.ReadinessPercent)

	e.recordRun(ctx, orgID, res, start, "")
	e.Events.Publish(ctx, "run.completed", orgID, "run", res.RunID, "orchestrator", res.CorrelationID, events.EventPayload{
		"quests_unlocked":  len(res.QuestsUnlocked),
		"quests_completed": len(res.QuestsCompleted),
		"tasks_assigned":   len(res.TasksAssigned),
		"deck_size":        res.DeckSize,
	})
	return res, nil
}

func transitionEvent(to string) string {
	switch to {
	case domain.QuestInProgress:
		return "quest.started"
	case domain.QuestCompleted:
		return "quest.completed"
	default:
		return "quest.unlocked"
	}
}

func findQuest(quests []domain.Quest, id string) (domain.Quest, bool) {
	for _, q := range quests {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Quest{}, false
}

func topScore(d assign.Decision) int {
	if len(d.Scores) == 0 {
		return 0
	}
	return d.Scores[0].Total
}

func (e Engine) recordRun(ctx context.Context, orgID string, res RunResult, start time.Time, failedStage string) {
	status := "completed"
	if failedStage != "" {
		status = "failed"
	}
	run := domain.Run{
		ID:             res.RunID,
		OrgID:          orgID,
		CorrelationID:  res.CorrelationID,
		Status:         status,
		FailedStage:    failedStage,
		QuestsUnlocked: len(res.QuestsUnlocked),
		TasksAssigned:  len(res.TasksAssigned),
		DeckSize:       res.DeckSize,
		Warnings:       res.Warnings,
		StartedAt:      start.Format(time.RFC3339),
		FinishedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertRun(ctx, run); err != nil {
		// History is best effort; the run itself already happened.
		log.Printf("record run %s: %v", run.ID, err)
	}
}
