package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"questdeck/internal/db"
	"questdeck/internal/domain"
	"questdeck/internal/migrate"
	"questdeck/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func ts() string { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339) }

func seedTask(t *testing.T, r repo.Repo, ctx context.Context, id string) domain.Task {
	t.Helper()
	task := domain.Task{
		ID: id, OrgID: "org-1", Title: "seed " + id,
		Status: domain.TaskTodo, Priority: domain.PriorityMedium,
		CreatedAt: ts(), UpdatedAt: ts(),
	}
	if err := r.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	got, err := r.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return got
}

func TestTaskVersionGuard(t *testing.T) {
	r, ctx := newRepo(t)
	task := seedTask(t, r, ctx, "t-1")
	if task.Version != 1 {
		t.Fatalf("fresh task version = %d", task.Version)
	}

	// writer A succeeds with the version it read
	a := task
	a.Status = domain.TaskInProgress
	expected := task.Version
	a, err := r.UpdateTask(ctx, a, &expected)
	if err != nil {
		t.Fatalf("update with current version: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("version after write = %d", a.Version)
	}

	// writer B still holds version 1 and must be rejected whole
	b := task
	b.Status = domain.TaskBlocked
	b.Priority = domain.PriorityUrgent
	_, err = r.UpdateTask(ctx, b, &expected)
	var ce *repo.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.Expected != 1 || ce.Actual != 2 {
		t.Fatalf("conflict versions = %d/%d", ce.Expected, ce.Actual)
	}
	latest, ok := ce.Latest.(domain.Task)
	if !ok {
		t.Fatalf("latest is %T", ce.Latest)
	}
	if latest.Status != domain.TaskInProgress || latest.Priority != domain.PriorityMedium {
		t.Fatalf("rejected write leaked fields: %+v", latest)
	}
}

func TestTaskUpdateWithoutToken(t *testing.T) {
	r, ctx := newRepo(t)
	task := seedTask(t, r, ctx, "t-1")
	for i := 0; i < 3; i++ {
		task.Title = "rewrite"
		var err error
		task, err = r.UpdateTask(ctx, task, nil)
		if err != nil {
			t.Fatalf("tokenless update %d: %v", i, err)
		}
	}
	if task.Version != 4 {
		t.Fatalf("version still advances without a token, got %d", task.Version)
	}
}

func TestQuestVersionGuard(t *testing.T) {
	r, ctx := newRepo(t)
	quest := domain.Quest{
		ID: "q-1", OrgID: "org-1", Title: "seed", State: domain.QuestLocked,
		UnlockConditions: []domain.UnlockCondition{{Kind: domain.CondTaskCompleted, TaskID: "t-x"}},
		CreatedAt:        ts(), UpdatedAt: ts(),
	}
	if err := r.InsertQuest(ctx, quest); err != nil {
		t.Fatal(err)
	}
	quest, err := r.GetQuest(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	stale := quest.Version

	quest.State = domain.QuestUnlocked
	if _, err := r.UpdateQuest(ctx, quest, &stale); err != nil {
		t.Fatalf("first guarded write: %v", err)
	}
	quest.State = domain.QuestInProgress
	_, err = r.UpdateQuest(ctx, quest, &stale)
	var ce *repo.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.Kind != "quest" || ce.ID != "q-1" {
		t.Fatalf("conflict identity = %s %s", ce.Kind, ce.ID)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	r, ctx := newRepo(t)
	if _, err := r.GetTask(ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := r.GetQuest(ctx, "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListTasksFilters(t *testing.T) {
	r, ctx := newRepo(t)
	seedTask(t, r, ctx, "t-1")
	done := seedTask(t, r, ctx, "t-2")
	done.Status = domain.TaskDone
	if _, err := r.UpdateTask(ctx, done, nil); err != nil {
		t.Fatal(err)
	}

	all, err := r.ListTasks(ctx, repo.TaskFilters{OrgID: "org-1"})
	if err != nil || len(all) != 2 {
		t.Fatalf("all tasks: %d, %v", len(all), err)
	}
	open, err := r.ListTasks(ctx, repo.TaskFilters{OrgID: "org-1", Status: domain.TaskTodo})
	if err != nil || len(open) != 1 || open[0].ID != "t-1" {
		t.Fatalf("status filter: %+v, %v", open, err)
	}
	other, err := r.ListTasks(ctx, repo.TaskFilters{OrgID: "org-2"})
	if err != nil || len(other) != 0 {
		t.Fatalf("org isolation: %+v", other)
	}
}

func TestWorkloadMinutes(t *testing.T) {
	r, ctx := newRepo(t)
	owner := "m-ada"
	for i, task := range []domain.Task{
		{ID: "t-1", Status: domain.TaskTodo, EstimatedMinutes: 60},
		{ID: "t-2", Status: domain.TaskInProgress, EstimatedMinutes: 30},
		{ID: "t-3", Status: domain.TaskDone, EstimatedMinutes: 500},
	} {
		task.OrgID = "org-1"
		task.Title = "w"
		task.Priority = domain.PriorityMedium
		task.OwnerID = &owner
		task.CreatedAt, task.UpdatedAt = ts(), ts()
		task.Position = i
		if err := r.InsertTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	load, err := r.WorkloadMinutes(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	// done work does not count
	if load[owner] != 90 {
		t.Fatalf("workload = %d, want 90", load[owner])
	}
}

func TestReplaceDeckOverwrites(t *testing.T) {
	r, ctx := newRepo(t)
	first := domain.DailyDeck{
		OrgID: "org-1", Date: "2024-01-01",
		Items:       []domain.DeckItem{{TaskID: "t-1", Score: 200}},
		GeneratedAt: ts(),
	}
	if err := r.ReplaceDeck(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := first
	second.Items = []domain.DeckItem{{TaskID: "t-2", Score: 300}, {TaskID: "t-3", Score: 100}}
	if err := r.ReplaceDeck(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetDeck(ctx, "org-1", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 2 || got.Items[0].TaskID != "t-2" {
		t.Fatalf("deck was not replaced: %+v", got.Items)
	}
}
