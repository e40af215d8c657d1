package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"questdeck/internal/config"
	"questdeck/internal/db"
	"questdeck/internal/domain"
	"questdeck/internal/engine"
	"questdeck/internal/migrate"
	"questdeck/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestGoalStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{OrgID: "org-1", Title: "Grow signups", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if g.Status != domain.GoalDraft {
		t.Fatalf("new goal status = %s", g.Status)
	}
	// skipping a stage is rejected
	if _, err := env.Engine.SetGoalStatus(env.Ctx, g.ID, domain.GoalApproved, "tester"); err == nil {
		t.Fatal("expected transition error draft -> approved")
	}
	for _, status := range []string{domain.GoalClarified, domain.GoalApproved, domain.GoalDecomposed} {
		if g, err = env.Engine.SetGoalStatus(env.Ctx, g.ID, status, "tester"); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	// decomposed is terminal, even denial is off the table
	if _, err := env.Engine.SetGoalStatus(env.Ctx, g.ID, domain.GoalDenied, "tester"); err == nil {
		t.Fatal("expected transition error decomposed -> denied")
	}

	g2, err := env.Engine.CreateGoal(env.Ctx, engine.GoalCreateOptions{OrgID: "org-1", Title: "Reduce churn", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetGoalStatus(env.Ctx, g2.ID, domain.GoalDenied, "tester"); err != nil {
		t.Fatalf("draft -> denied should be allowed: %v", err)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OrgID: "org-1", Title: "Do work", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskInProgress, ActorID: "tester"})
	if err != nil || task.Status != domain.TaskInProgress {
		t.Fatalf("to in_progress: %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskDone, ActorID: "tester"})
	if err != nil || task.Status != domain.TaskDone {
		t.Fatalf("to done: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatal("done task missing completed_at")
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskTodo, ActorID: "tester"}); err == nil {
		t.Fatal("expected transition error done -> todo")
	}
}

func TestQuestUnlockedWithoutConditions(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.CreateQuest(env.Ctx, engine.QuestCreateOptions{OrgID: "org-1", Title: "Open quest", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	if q.State != domain.QuestUnlocked || q.UnlockedAt == nil {
		t.Fatalf("quest without conditions should start unlocked, got %s", q.State)
	}
	gated, err := env.Engine.CreateQuest(env.Ctx, engine.QuestCreateOptions{
		OrgID: "org-1", Title: "Gated quest", ActorID: "tester",
		Conditions: []domain.UnlockCondition{{Kind: domain.CondQuestCompleted, QuestID: q.ID}},
	})
	if err != nil {
		t.Fatalf("create gated quest: %v", err)
	}
	if gated.State != domain.QuestLocked {
		t.Fatalf("gated quest should start locked, got %s", gated.State)
	}
}

func TestCreateQuestRejectsMalformedConditions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateQuest(env.Ctx, engine.QuestCreateOptions{
		OrgID: "org-1", Title: "Bad", ActorID: "tester",
		Conditions: []domain.UnlockCondition{{Kind: domain.CondTaskCompleted}},
	})
	if err == nil {
		t.Fatal("expected validation error for condition without task_id")
	}
	_, err = env.Engine.CreateQuest(env.Ctx, engine.QuestCreateOptions{
		OrgID: "org-1", Title: "Bad kind", ActorID: "tester",
		Conditions: []domain.UnlockCondition{{Kind: "phase_of_moon"}},
	})
	if err == nil {
		t.Fatal("expected validation error for unknown condition kind")
	}
}

func TestUpdateTaskStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OrgID: "org-1", Title: "Contended", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	stale := task.Version
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskInProgress, ActorID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskDone, ExpectedVersion: &stale, ActorID: "b"})
	var ce *repo.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if ce.Latest == nil {
		t.Fatal("conflict should carry the latest record")
	}
	// without a token the same write goes through
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskDone, ActorID: "b"}); err != nil {
		t.Fatalf("last-writer-wins update: %v", err)
	}
}

func TestApproveTask(t *testing.T) {
	env := newTestEnv(t)
	plain, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OrgID: "org-1", Title: "Plain", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveTask(env.Ctx, plain.ID, "lead", nil); err == nil {
		t.Fatal("approving a task without the gate should fail")
	}
	gated, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{OrgID: "org-1", Title: "Gated", RequiresApproval: true, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	gated, err = env.Engine.ApproveTask(env.Ctx, gated.ID, "lead", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if gated.ApprovedAt == nil || gated.ApprovedBy == nil || *gated.ApprovedBy != "lead" {
		t.Fatalf("approval not recorded: %+v", gated)
	}
}

// seedOrg builds a small org: quest A open with two tasks, quest B gated on A,
// one task under B, and two members with capacity.
func seedOrg(t *testing.T, env testEnv) (questA, questB domain.Quest, tasksA []domain.Task) {
	t.Helper()
	questA, err := env.Engine.CreateQuest(env.Ctx, engine.QuestCreateOptions{OrgID: "org-1", Title: "Ship beta", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	for i, title := range []string{"Fix login bug", "Write release notes"} {
		task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			OrgID: "org-1", QuestID: questA.ID, Title: title, EstimatedMinutes: 60, Position: i, ActorID: "tester",
		})
		if err != nil {
			t.Fatal(err)
		}
		tasksA = append(tasksA, task)
	}
	questB, err = env.Engine.CreateQuest(env.Ctx, engine.QuestCreateOptions{
		OrgID: "org-1", Title: "Launch GA", ActorID: "tester",
		Conditions: []domain.UnlockCondition{{Kind: domain.CondQuestCompleted, QuestID: questA.ID}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", QuestID: questB.ID, Title: "Announce launch", EstimatedMinutes: 30, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	for _, m := range []engine.MemberUpsertOptions{
		{ID: "m-ada", OrgID: "org-1", Name: "Ada", Top2: []string{"tenacity", "discernment"}, DailyCapacityMinutes: 240},
		{ID: "m-ben", OrgID: "org-1", Name: "Ben", Top2: []string{"galvanizing", "wonder"}, DailyCapacityMinutes: 240},
	} {
		if _, err := env.Engine.UpsertMember(env.Ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	return questA, questB, tasksA
}

func TestRunOrchestrationEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	questA, questB, tasksA := seedOrg(t, env)

	res, err := env.Engine.RunOrchestration(env.Ctx, "org-1", time.Time{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	firstRunID := res.RunID
	if len(res.TasksAssigned) != 2 {
		t.Fatalf("expected 2 assignments, got %v", res.TasksAssigned)
	}
	if res.DeckSize != 2 {
		t.Fatalf("deck size = %d", res.DeckSize)
	}
	gotB, err := env.Engine.Repo.GetQuest(env.Ctx, questB.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotB.State != domain.QuestLocked {
		t.Fatalf("quest B should stay locked, got %s", gotB.State)
	}

	// finish quest A's tasks, then a second pass completes A and opens B
	for _, task := range tasksA {
		if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskInProgress, ActorID: "m-ada"}); err != nil {
			t.Fatal(err)
		}
		if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskDone, ActorID: "m-ada"}); err != nil {
			t.Fatal(err)
		}
	}
	res, err = env.Engine.RunOrchestration(env.Ctx, "org-1", time.Time{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.RunID == firstRunID {
		t.Fatalf("runs under the same clock must get distinct ids, both %s", res.RunID)
	}
	if len(res.QuestsCompleted) != 1 || res.QuestsCompleted[0] != questA.ID {
		t.Fatalf("quest A should complete, got %v", res.QuestsCompleted)
	}
	if len(res.QuestsUnlocked) != 1 || res.QuestsUnlocked[0] != questB.ID {
		t.Fatalf("quest B should unlock, got %v", res.QuestsUnlocked)
	}

	// third pass over unchanged state moves nothing; the caller-supplied
	// time overrides the engine clock
	res, err = env.Engine.RunOrchestration(env.Ctx, "org-1", time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(res.QuestsUnlocked) != 0 || len(res.QuestsCompleted) != 0 || len(res.TasksAssigned) != 0 {
		t.Fatalf("idempotent re-run should be quiet, got %+v", res)
	}

	runs, err := env.Engine.Repo.ListRuns(env.Ctx, "org-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 recorded runs, got %d", len(runs))
	}
	explicitStart := false
	for _, run := range runs {
		if run.StartedAt == "2024-01-02T08:00:00Z" {
			explicitStart = true
		}
	}
	if !explicitStart {
		t.Fatalf("no run started at the supplied time: %+v", runs)
	}
}

func TestOrchestrationApprovalGate(t *testing.T) {
	env := newTestEnv(t)
	quest, err := env.Engine.CreateQuest(env.Ctx, engine.QuestCreateOptions{OrgID: "org-1", Title: "Audit trail", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		OrgID: "org-1", QuestID: quest.ID, Title: "Review ledger", RequiresApproval: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: domain.TaskDone, ActorID: "m-ada"}); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.RunOrchestration(env.Ctx, "org-1", time.Time{}); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetQuest(env.Ctx, quest.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State == domain.QuestCompleted {
		t.Fatal("quest completed with an unapproved gated task")
	}

	if _, err := env.Engine.ApproveTask(env.Ctx, task.ID, "lead", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RunOrchestration(env.Ctx, "org-1", time.Time{}); err != nil {
		t.Fatal(err)
	}
	got, err = env.Engine.Repo.GetQuest(env.Ctx, quest.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.QuestCompleted {
		t.Fatalf("quest should complete after approval, got %s", got.State)
	}
}

func TestOrchestrationRecordsFacts(t *testing.T) {
	env := newTestEnv(t)
	seedOrg(t, env)
	res, err := env.Engine.RunOrchestration(env.Ctx, "org-1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "org-1", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, evt := range evts {
		seen[evt.Type] = true
		if evt.Type == "run.completed" && evt.CorrelationID != res.CorrelationID {
			t.Fatalf("run fact correlation = %s, want %s", evt.CorrelationID, res.CorrelationID)
		}
	}
	for _, want := range []string{"task.assigned", "deck.generated", "run.completed"} {
		if !seen[want] {
			t.Fatalf("missing %s fact", want)
		}
	}
}
