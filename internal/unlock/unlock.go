// Package unlock recomputes quest reachability from completion facts.
package unlock

import (
	"questdeck/internal/domain"
)

// Facts indexes the org's current tasks and quests for condition lookups.
type Facts struct {
	Tasks  map[string]domain.Task
	Quests map[string]domain.Quest
}

func NewFacts(quests []domain.Quest, tasks []domain.Task) Facts {
	f := Facts{
		Tasks:  make(map[string]domain.Task, len(tasks)),
		Quests: make(map[string]domain.Quest, len(quests)),
	}
	for _, t := range tasks {
		f.Tasks[t.ID] = t
	}
	for _, q := range quests {
		f.Quests[q.ID] = q
	}
	return f
}

func (f Facts) taskComplete(id string) bool {
	t, ok := f.Tasks[id]
	if !ok {
		return false
	}
	return t.TrulyComplete()
}

// conditionMet evaluates one predicate. Dangling references evaluate to
// false, keeping the quest locked instead of erroring.
func conditionMet(c domain.UnlockCondition, f Facts) bool {
	switch c.Kind {
	case domain.CondTaskCompleted:
		return f.taskComplete(c.TaskID)
	case domain.CondQuestCompleted:
		q, ok := f.Quests[c.QuestID]
		return ok && q.State == domain.QuestCompleted
	case domain.CondAllTasksCompleted:
		if len(c.TaskIDs) == 0 {
			return false
		}
		for _, id := range c.TaskIDs {
			if !f.taskComplete(id) {
				return false
			}
		}
		return true
	case domain.CondAnyTaskCompleted:
		for _, id := range c.TaskIDs {
			if f.taskComplete(id) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// ConditionsMet applies AND semantics across the condition list. An empty
// list is unconditionally met.
func ConditionsMet(conds []domain.UnlockCondition, f Facts) bool {
	for _, c := range conds {
		if !conditionMet(c, f) {
			return false
		}
	}
	return true
}

// SatisfiedCount reports how many conditions are currently met.
func SatisfiedCount(conds []domain.UnlockCondition, f Facts) (met, total int) {
	total = len(conds)
	for _, c := range conds {
		if conditionMet(c, f) {
			met++
		}
	}
	return met, total
}

// Change records one quest state transition produced by Evaluate.
type Change struct {
	QuestID string
	From    string
	To      string
}

// Evaluate runs a fixed-point loop over the full quest set: each pass unlocks
// quests whose conditions are met and advances unlocked/in-progress quests
// whose own tasks have completed, then repeats until a pass changes nothing.
// Quest states only move forward, so the loop converges within len(quests)
// passes; the explicit bound fails loudly if that invariant is ever broken.
// Returned quests are copies with the new states applied; the input is not
// mutated.
func Evaluate(quests []domain.Quest, tasks []domain.Task, now string) ([]domain.Quest, []Change) {
	out := make([]domain.Quest, len(quests))
	copy(out, quests)

	tasksByQuest := make(map[string][]domain.Task)
	for _, t := range tasks {
		if t.QuestID != "" {
			tasksByQuest[t.QuestID] = append(tasksByQuest[t.QuestID], t)
		}
	}

	var changes []Change
	maxPasses := len(out) + 1
	for pass := 0; pass < maxPasses; pass++ {
		facts := NewFacts(out, tasks)
		changed := false
		for i := range out {
			q := out[i]
			if q.State == domain.QuestLocked && ConditionsMet(q.UnlockConditions, facts) {
				changes = append(changes, Change{QuestID: q.ID, From: q.State, To: domain.QuestUnlocked})
				q.State = domain.QuestUnlocked
				ts := now
				q.UnlockedAt = &ts
				q.UpdatedAt = now
				out[i] = q
				changed = true
				continue
			}
			if q.State != domain.QuestUnlocked && q.State != domain.QuestInProgress {
				continue
			}
			own := tasksByQuest[q.ID]
			if len(own) == 0 {
				continue
			}
			done := 0
			for _, t := range own {
				if t.TrulyComplete() {
					done++
				}
			}
			switch {
			case done == len(own):
				changes = append(changes, Change{QuestID: q.ID, From: q.State, To: domain.QuestCompleted})
				q.State = domain.QuestCompleted
				ts := now
				q.CompletedAt = &ts
				q.UpdatedAt = now
				out[i] = q
				changed = true
			case done > 0 && q.State == domain.QuestUnlocked:
				changes = append(changes, Change{QuestID: q.ID, From: q.State, To: domain.QuestInProgress})
				q.State = domain.QuestInProgress
				q.UpdatedAt = now
				out[i] = q
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return out, changes
}

// ReadySoon lists quests still locked whose satisfied-condition ratio meets
// the configured percentage. Annotation only; nothing here unlocks a quest.
func ReadySoon(quests []domain.Quest, tasks []domain.Task, percent int) []string {
	if percent <= 0 {
		return nil
	}
	facts := NewFacts(quests, tasks)
	var ids []string
	for _, q := range quests {
		if q.State != domain.QuestLocked {
			continue
		}
		met, total := SatisfiedCount(q.UnlockConditions, facts)
		if total == 0 || met == total {
			continue
		}
		if met*100 >= percent*total {
			ids = append(ids, q.ID)
		}
	}
	return ids
}
