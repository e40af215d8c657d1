package unlock_test

import (
	"testing"

	"questdeck/internal/domain"
	"questdeck/internal/unlock"
)

const now = "2024-01-01T00:00:00Z"

func doneTask(id, questID string) domain.Task {
	ts := now
	return domain.Task{ID: id, QuestID: questID, Status: domain.TaskDone, CompletedAt: &ts}
}

func openTask(id, questID string) domain.Task {
	return domain.Task{ID: id, QuestID: questID, Status: domain.TaskTodo}
}

func TestEvaluateUnlocksConditionFree(t *testing.T) {
	quests := []domain.Quest{{ID: "q1", State: domain.QuestLocked}}
	out, changes := unlock.Evaluate(quests, nil, now)
	if out[0].State != domain.QuestUnlocked {
		t.Fatalf("state = %s", out[0].State)
	}
	if out[0].UnlockedAt == nil || *out[0].UnlockedAt != now {
		t.Fatal("unlocked_at not stamped")
	}
	if len(changes) != 1 || changes[0].To != domain.QuestUnlocked {
		t.Fatalf("changes = %+v", changes)
	}
	if quests[0].State != domain.QuestLocked {
		t.Fatal("input slice was mutated")
	}
}

func TestEvaluateChainPropagatesInOnePass(t *testing.T) {
	// q1's tasks are done, q2 waits on q1, q3 waits on q2. One Evaluate call
	// must ripple the whole chain.
	quests := []domain.Quest{
		{ID: "q1", State: domain.QuestUnlocked},
		{ID: "q2", State: domain.QuestLocked, UnlockConditions: []domain.UnlockCondition{{Kind: domain.CondQuestCompleted, QuestID: "q1"}}},
		{ID: "q3", State: domain.QuestLocked, UnlockConditions: []domain.UnlockCondition{{Kind: domain.CondQuestCompleted, QuestID: "q2"}}},
	}
	tasks := []domain.Task{doneTask("t1", "q1")}
	out, _ := unlock.Evaluate(quests, tasks, now)
	if out[0].State != domain.QuestCompleted {
		t.Fatalf("q1 = %s", out[0].State)
	}
	if out[1].State != domain.QuestUnlocked {
		t.Fatalf("q2 = %s", out[1].State)
	}
	// q3 stays locked: q2 just unlocked and has no completed work yet
	if out[2].State != domain.QuestLocked {
		t.Fatalf("q3 = %s", out[2].State)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	quests := []domain.Quest{
		{ID: "q1", State: domain.QuestUnlocked},
		{ID: "q2", State: domain.QuestLocked, UnlockConditions: []domain.UnlockCondition{{Kind: domain.CondTaskCompleted, TaskID: "t1"}}},
	}
	tasks := []domain.Task{doneTask("t1", "q1")}
	first, changes := unlock.Evaluate(quests, tasks, now)
	if len(changes) == 0 {
		t.Fatal("first pass should change state")
	}
	second, changes := unlock.Evaluate(first, tasks, now)
	if len(changes) != 0 {
		t.Fatalf("second pass should be quiet, got %+v", changes)
	}
	for i := range first {
		if first[i].State != second[i].State {
			t.Fatalf("state drifted for %s", first[i].ID)
		}
	}
}

func TestApprovalGatesCompletion(t *testing.T) {
	ts := now
	task := domain.Task{ID: "t1", QuestID: "q1", Status: domain.TaskDone, CompletedAt: &ts, RequiresApproval: true}
	quests := []domain.Quest{
		{ID: "q1", State: domain.QuestUnlocked},
		{ID: "q2", State: domain.QuestLocked, UnlockConditions: []domain.UnlockCondition{{Kind: domain.CondTaskCompleted, TaskID: "t1"}}},
	}
	out, _ := unlock.Evaluate(quests, []domain.Task{task}, now)
	if out[0].State != domain.QuestInProgress && out[0].State != domain.QuestUnlocked {
		t.Fatalf("q1 must not complete on unapproved work, got %s", out[0].State)
	}
	if out[1].State != domain.QuestLocked {
		t.Fatalf("q2 must stay locked, got %s", out[1].State)
	}

	approver := "lead"
	task.ApprovedAt = &ts
	task.ApprovedBy = &approver
	out, _ = unlock.Evaluate(quests, []domain.Task{task}, now)
	if out[0].State != domain.QuestCompleted {
		t.Fatalf("q1 should complete after approval, got %s", out[0].State)
	}
	if out[1].State != domain.QuestUnlocked {
		t.Fatalf("q2 should unlock, got %s", out[1].State)
	}
}

func TestConditionKinds(t *testing.T) {
	tasks := []domain.Task{doneTask("t1", "q0"), doneTask("t2", "q0"), openTask("t3", "q0")}
	facts := unlock.NewFacts(nil, tasks)
	cases := []struct {
		name string
		cond domain.UnlockCondition
		want bool
	}{
		{"task done", domain.UnlockCondition{Kind: domain.CondTaskCompleted, TaskID: "t1"}, true},
		{"task open", domain.UnlockCondition{Kind: domain.CondTaskCompleted, TaskID: "t3"}, false},
		{"all done", domain.UnlockCondition{Kind: domain.CondAllTasksCompleted, TaskIDs: []string{"t1", "t2"}}, true},
		{"all with open", domain.UnlockCondition{Kind: domain.CondAllTasksCompleted, TaskIDs: []string{"t1", "t3"}}, false},
		{"any done", domain.UnlockCondition{Kind: domain.CondAnyTaskCompleted, TaskIDs: []string{"t3", "t2"}}, true},
		{"any open", domain.UnlockCondition{Kind: domain.CondAnyTaskCompleted, TaskIDs: []string{"t3"}}, false},
		{"dangling task", domain.UnlockCondition{Kind: domain.CondTaskCompleted, TaskID: "ghost"}, false},
		{"dangling quest", domain.UnlockCondition{Kind: domain.CondQuestCompleted, QuestID: "ghost"}, false},
	}
	for _, tc := range cases {
		if got := unlock.ConditionsMet([]domain.UnlockCondition{tc.cond}, facts); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestQuestWithoutTasksNeverCompletes(t *testing.T) {
	quests := []domain.Quest{{ID: "q1", State: domain.QuestUnlocked}}
	out, changes := unlock.Evaluate(quests, nil, now)
	if out[0].State != domain.QuestUnlocked || len(changes) != 0 {
		t.Fatalf("taskless quest moved: %s", out[0].State)
	}
}

func TestInProgressIsOneWay(t *testing.T) {
	// quest already in progress keeps that state even though no task is done
	quests := []domain.Quest{{ID: "q1", State: domain.QuestInProgress}}
	tasks := []domain.Task{openTask("t1", "q1")}
	out, changes := unlock.Evaluate(quests, tasks, now)
	if out[0].State != domain.QuestInProgress || len(changes) != 0 {
		t.Fatalf("in_progress regressed: %s", out[0].State)
	}
}

func TestReadySoon(t *testing.T) {
	quests := []domain.Quest{
		{ID: "half", State: domain.QuestLocked, UnlockConditions: []domain.UnlockCondition{
			{Kind: domain.CondTaskCompleted, TaskID: "t1"},
			{Kind: domain.CondTaskCompleted, TaskID: "t3"},
		}},
		{ID: "none", State: domain.QuestLocked, UnlockConditions: []domain.UnlockCondition{
			{Kind: domain.CondTaskCompleted, TaskID: "t3"},
		}},
	}
	tasks := []domain.Task{doneTask("t1", "q0"), openTask("t3", "q0")}
	ids := unlock.ReadySoon(quests, tasks, 50)
	if len(ids) != 1 || ids[0] != "half" {
		t.Fatalf("ready soon = %v", ids)
	}
	if got := unlock.ReadySoon(quests, tasks, 0); got != nil {
		t.Fatalf("percent 0 disables the annotation, got %v", got)
	}
}
