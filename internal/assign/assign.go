// Package assign ranks candidate owners for tasks with explainable scores.
package assign

import (
	"sort"

	"questdeck/internal/domain"
)

// Weights are the integer scoring parameters. Higher totals win.
type Weights struct {
	Primary     int
	Secondary   int
	Frustration int
	LoadPenalty int
}

func DefaultWeights() Weights {
	return Weights{Primary: 30, Secondary: 15, Frustration: 25, LoadPenalty: 20}
}

// Candidate pairs a member profile with their current open workload.
type Candidate struct {
	Member          domain.Member
	WorkloadMinutes int
}

// Score is one candidate's breakdown. Affinity and Load add up to Total.
type Score struct {
	MemberID string `json:"member_id"`
	Affinity int    `json:"affinity"`
	Load     int    `json:"load"`
	Total    int    `json:"total"`
}

// Decision is the auditable result for one task: the inferred tag, the chosen
// owner (empty when no candidate was usable) and the full ranking.
type Decision struct {
	TaskID  string  `json:"task_id"`
	Tag     Genius  `json:"tag"`
	OwnerID string  `json:"owner_id,omitempty"`
	Scores  []Score `json:"scores,omitempty"`
}

func contains(tags []string, g Genius) bool {
	for _, t := range tags {
		if Genius(t) == g {
			return true
		}
	}
	return false
}

// ScoreTask ranks the candidates for one task. Candidates without positive
// daily capacity are unusable; when none remain the task stays unassigned,
// which is a valid terminal state, not an error. Identical inputs always
// produce the identical winner: candidates are ordered by member id before
// scoring and the sort is stable, so ties resolve to the smaller id.
func ScoreTask(task domain.Task, tag Genius, candidates []Candidate, w Weights) Decision {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Member.ID < ordered[j].Member.ID })

	d := Decision{TaskID: task.ID, Tag: tag}
	for _, c := range ordered {
		if c.Member.DailyCapacityMinutes <= 0 {
			continue
		}
		s := Score{MemberID: c.Member.ID}
		if contains(c.Member.Top2, tag) {
			s.Affinity += w.Primary
		}
		if contains(c.Member.Competency2, tag) {
			s.Affinity += w.Secondary
		}
		if contains(c.Member.Frustration2, tag) {
			s.Affinity -= w.Frustration
		}
		s.Load = -(c.WorkloadMinutes * w.LoadPenalty / c.Member.DailyCapacityMinutes)
		s.Total = s.Affinity + s.Load
		d.Scores = append(d.Scores, s)
	}
	sort.SliceStable(d.Scores, func(i, j int) bool { return d.Scores[i].Total > d.Scores[j].Total })
	if len(d.Scores) > 0 {
		d.OwnerID = d.Scores[0].MemberID
	}
	return d
}

// AssignBatch places tasks one at a time, adding each placed task's estimated
// minutes to the winner's workload before scoring the next. This makes a
// batch of N tasks land differently than N independent calls against the
// pre-batch snapshot.
func AssignBatch(tasks []domain.Task, candidates []Candidate, c Classifier, w Weights) []Decision {
	pool := make([]Candidate, len(candidates))
	copy(pool, candidates)
	decisions := make([]Decision, 0, len(tasks))
	for _, task := range tasks {
		d := ScoreTask(task, c.Classify(task), pool, w)
		decisions = append(decisions, d)
		if d.OwnerID == "" {
			continue
		}
		for i := range pool {
			if pool[i].Member.ID == d.OwnerID {
				pool[i].WorkloadMinutes += task.EstimatedMinutes
				break
			}
		}
	}
	return decisions
}
