// Package deck selects the bounded daily slice of eligible tasks for an org.
package deck

import (
	"fmt"
	"sort"
	"time"

	"questdeck/internal/domain"
)

// Weights are the integer scoring parameters for deck priority. Priority base
// values are spaced so that bonuses can never lift a task past a higher
// priority band.
type Weights struct {
	Urgent          int
	High            int
	Medium          int
	Low             int
	InProgressBonus int
	AgeBonusCap     int
	QuickWinMinutes int
}

func DefaultWeights() Weights {
	return Weights{
		Urgent:          400,
		High:            300,
		Medium:          200,
		Low:             100,
		InProgressBonus: 25,
		AgeBonusCap:     10,
		QuickWinMinutes: 30,
	}
}

type Input struct {
	OrgID   string
	Date    string
	Now     time.Time
	Tasks   []domain.Task
	Quests  []domain.Quest
	Members []domain.Member
	MinSize int
	MaxSize int
	Weights Weights
}

func (w Weights) priorityBase(priority string) int {
	switch priority {
	case domain.PriorityUrgent:
		return w.Urgent
	case domain.PriorityHigh:
		return w.High
	case domain.PriorityLow:
		return w.Low
	default:
		return w.Medium
	}
}

// Score computes a task's deck priority. Integer arithmetic only, for
// reproducibility across runs and platforms.
func Score(t domain.Task, now time.Time, w Weights) int {
	score := w.priorityBase(t.Priority)
	if t.Status == domain.TaskInProgress {
		score += w.InProgressBonus
	}
	if created, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		days := int(now.Sub(created).Hours() / 24)
		bonus := days / 2
		if bonus > w.AgeBonusCap {
			bonus = w.AgeBonusCap
		}
		if bonus > 0 {
			score += bonus
		}
	}
	if t.EstimatedMinutes > 0 && w.QuickWinMinutes > 0 {
		switch {
		case t.EstimatedMinutes <= w.QuickWinMinutes/2:
			score += 15
		case t.EstimatedMinutes <= w.QuickWinMinutes:
			score += 10
		}
	}
	return score
}

// Eligible reports whether a task can appear on the deck: open, unblocked and
// attached to a workable quest.
func Eligible(t domain.Task, quests map[string]domain.Quest) bool {
	if t.Status == domain.TaskDone || t.Status == domain.TaskBlocked {
		return false
	}
	if len(t.Blockers) > 0 {
		return false
	}
	q, ok := quests[t.QuestID]
	if !ok {
		return false
	}
	return q.State == domain.QuestUnlocked || q.State == domain.QuestInProgress
}

// Generate builds the daily deck snapshot for the given inputs. The result is
// a full replacement for the (org, date) key and is deterministic for a given
// timestamp.
func Generate(in Input) domain.DailyDeck {
	w := in.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	minSize, maxSize := in.MinSize, in.MaxSize
	if minSize <= 0 {
		minSize = 3
	}
	if maxSize < minSize {
		maxSize = 7
	}

	questIndex := make(map[string]domain.Quest, len(in.Quests))
	for _, q := range in.Quests {
		questIndex[q.ID] = q
	}

	d := domain.DailyDeck{
		OrgID:       in.OrgID,
		Date:        in.Date,
		Items:       []domain.DeckItem{},
		GeneratedAt: in.Now.UTC().Format(time.RFC3339),
	}

	var candidates []domain.Task
	for _, t := range in.Tasks {
		if Eligible(t, questIndex) {
			candidates = append(candidates, t)
		}
	}
	d.TasksConsidered = len(candidates)

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := Score(candidates[i], in.Now, w), Score(candidates[j], in.Now, w)
		if si != sj {
			return si > sj
		}
		return candidates[i].ID < candidates[j].ID
	})

	take := len(candidates)
	if take > maxSize {
		take = maxSize
	}
	for _, t := range candidates[:take] {
		d.Items = append(d.Items, domain.DeckItem{
			TaskID:           t.ID,
			Title:            t.Title,
			Priority:         t.Priority,
			Status:           t.Status,
			OwnerID:          t.OwnerID,
			EstimatedMinutes: t.EstimatedMinutes,
			Score:            Score(t, in.Now, w),
		})
	}
	if len(d.Items) < minSize {
		d.Warnings = append(d.Warnings, shortfallWarning(in.Tasks, questIndex, len(d.Items), minSize))
	}

	d.Utilization, d.Warnings = rollupUtilization(d.Items, in.Members, d.Warnings)
	return d
}

// shortfallWarning explains why fewer than the floor were selected, naming
// the dominant exclusion category.
func shortfallWarning(tasks []domain.Task, quests map[string]domain.Quest, selected, minSize int) string {
	if len(tasks) == 0 {
		return "deck below minimum: org has no tasks"
	}
	allDone, allBlocked, allLocked, allOrphaned := true, true, true, true
	for _, t := range tasks {
		if t.Status == domain.TaskDone {
			continue
		}
		allDone = false
		if t.Status != domain.TaskBlocked && len(t.Blockers) == 0 {
			allBlocked = false
		}
		q, ok := quests[t.QuestID]
		if !ok {
			allLocked = false
			continue
		}
		allOrphaned = false
		if q.State == domain.QuestUnlocked || q.State == domain.QuestInProgress {
			allLocked = false
		}
	}
	switch {
	case allDone:
		return "deck below minimum: all tasks are done"
	case allBlocked:
		return "deck below minimum: all open tasks are blocked"
	case allLocked:
		return "deck below minimum: all open tasks sit in locked quests"
	case allOrphaned:
		return "deck below minimum: all open tasks lack a quest"
	default:
		return fmt.Sprintf("deck below minimum: only %d eligible tasks (floor %d)", selected, minSize)
	}
}

func rollupUtilization(items []domain.DeckItem, members []domain.Member, warnings []string) ([]domain.MemberUtilization, []string) {
	planned := map[string]int{}
	for _, item := range items {
		if item.OwnerID != nil {
			planned[*item.OwnerID] += item.EstimatedMinutes
		}
	}
	ordered := make([]domain.Member, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var res []domain.MemberUtilization
	for _, m := range ordered {
		if m.DailyCapacityMinutes <= 0 {
			continue
		}
		u := domain.MemberUtilization{
			MemberID:        m.ID,
			PlannedMinutes:  planned[m.ID],
			CapacityMinutes: m.DailyCapacityMinutes,
		}
		u.Percent = u.PlannedMinutes * 100 / u.CapacityMinutes
		if u.Percent > 100 {
			warnings = append(warnings, fmt.Sprintf("member %s overcommitted: %d%% of daily capacity", m.ID, u.Percent))
		}
		res = append(res, u)
	}
	return res, warnings
}
