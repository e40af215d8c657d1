package assign_test

import (
	"testing"

	"questdeck/internal/assign"
	"questdeck/internal/domain"
)

func member(id string, top, comp, frus []string, capacity int) assign.Candidate {
	return assign.Candidate{Member: domain.Member{
		ID: id, Top2: top, Competency2: comp, Frustration2: frus, DailyCapacityMinutes: capacity,
	}}
}

func TestScoreTaskPrefersPrimaryAffinity(t *testing.T) {
	task := domain.Task{ID: "t1", Title: "Fix the importer"}
	candidates := []assign.Candidate{
		member("m-b", []string{"tenacity"}, nil, nil, 240),
		member("m-a", nil, []string{"tenacity"}, nil, 240),
	}
	d := assign.ScoreTask(task, assign.Tenacity, candidates, assign.DefaultWeights())
	if d.OwnerID != "m-b" {
		t.Fatalf("owner = %s, want m-b", d.OwnerID)
	}
	if len(d.Scores) != 2 {
		t.Fatalf("scores = %+v", d.Scores)
	}
	if d.Scores[0].Affinity != 30 || d.Scores[1].Affinity != 15 {
		t.Fatalf("affinity breakdown wrong: %+v", d.Scores)
	}
}

func TestScoreTaskFrustrationPenalty(t *testing.T) {
	task := domain.Task{ID: "t1"}
	candidates := []assign.Candidate{
		member("m-a", []string{"wonder"}, nil, []string{"tenacity"}, 240),
		member("m-b", nil, nil, nil, 240),
	}
	d := assign.ScoreTask(task, assign.Tenacity, candidates, assign.DefaultWeights())
	// m-a scores -25 against m-b's 0
	if d.OwnerID != "m-b" {
		t.Fatalf("owner = %s, want m-b", d.OwnerID)
	}
}

func TestScoreTaskLoadPenalty(t *testing.T) {
	task := domain.Task{ID: "t1"}
	loaded := member("m-a", []string{"tenacity"}, nil, nil, 240)
	loaded.WorkloadMinutes = 240
	idle := member("m-b", []string{"tenacity"}, nil, nil, 240)
	d := assign.ScoreTask(task, assign.Tenacity, []assign.Candidate{loaded, idle}, assign.DefaultWeights())
	if d.OwnerID != "m-b" {
		t.Fatalf("owner = %s, want idle member", d.OwnerID)
	}
	if d.Scores[1].Load != -20 {
		t.Fatalf("full-capacity load = %d, want -20", d.Scores[1].Load)
	}
}

func TestScoreTaskTieBreaksBySmallerID(t *testing.T) {
	task := domain.Task{ID: "t1"}
	candidates := []assign.Candidate{
		member("m-z", nil, nil, nil, 240),
		member("m-a", nil, nil, nil, 240),
	}
	for i := 0; i < 5; i++ {
		d := assign.ScoreTask(task, assign.Tenacity, candidates, assign.DefaultWeights())
		if d.OwnerID != "m-a" {
			t.Fatalf("tie should go to the smaller id, got %s", d.OwnerID)
		}
	}
}

func TestScoreTaskNoUsableCandidates(t *testing.T) {
	task := domain.Task{ID: "t1"}
	d := assign.ScoreTask(task, assign.Tenacity, []assign.Candidate{member("m-a", nil, nil, nil, 0)}, assign.DefaultWeights())
	if d.OwnerID != "" || len(d.Scores) != 0 {
		t.Fatalf("zero-capacity member must be skipped: %+v", d)
	}
}

func TestAssignBatchAccumulatesWorkload(t *testing.T) {
	// Two equal members, two equal tasks: the first placement must tip the
	// second task to the other member via the load penalty.
	tasks := []domain.Task{
		{ID: "t1", Title: "Fix crash", EstimatedMinutes: 120},
		{ID: "t2", Title: "Fix leak", EstimatedMinutes: 120},
	}
	candidates := []assign.Candidate{
		member("m-a", []string{"tenacity"}, nil, nil, 240),
		member("m-b", []string{"tenacity"}, nil, nil, 240),
	}
	decisions := assign.AssignBatch(tasks, candidates, assign.NewKeywordClassifier(nil), assign.DefaultWeights())
	if decisions[0].OwnerID != "m-a" {
		t.Fatalf("first task owner = %s", decisions[0].OwnerID)
	}
	if decisions[1].OwnerID != "m-b" {
		t.Fatalf("second task should spill to m-b, got %s", decisions[1].OwnerID)
	}
	// the input pool must be untouched
	if candidates[0].WorkloadMinutes != 0 {
		t.Fatal("AssignBatch mutated its input")
	}
}

func TestClassifyKeywords(t *testing.T) {
	c := assign.NewKeywordClassifier(nil)
	cases := []struct {
		title string
		want  assign.Genius
	}{
		{"Research competitor pricing", assign.Wonder},
		{"Design new onboarding flow", assign.Invention},
		{"Review Q3 budget proposal", assign.Discernment},
		{"Launch the beta announcement", assign.Galvanizing},
		{"Help support triage the queue", assign.Enablement},
		{"Fix the flaky build", assign.Tenacity},
		{"Untagged miscellany", assign.Tenacity},
	}
	for _, tc := range cases {
		got := c.Classify(domain.Task{Title: tc.title})
		if got != tc.want {
			t.Errorf("%q classified as %s, want %s", tc.title, got, tc.want)
		}
	}
}

func TestClassifierConfigKeywords(t *testing.T) {
	c := assign.NewKeywordClassifier(map[string][]string{
		"wonder":   {"spelunk"},
		"nonsense": {"ignored"},
	})
	if got := c.Classify(domain.Task{Title: "Spelunk the legacy codebase"}); got != assign.Wonder {
		t.Fatalf("custom keyword ignored, got %s", got)
	}
}
