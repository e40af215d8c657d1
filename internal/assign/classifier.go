package assign

import (
	"strings"

	"questdeck/internal/domain"
)

// Genius is the affinity tag vocabulary shared by tasks and member profiles.
type Genius string

const (
	Wonder      Genius = "wonder"
	Invention   Genius = "invention"
	Discernment Genius = "discernment"
	Galvanizing Genius = "galvanizing"
	Enablement  Genius = "enablement"
	Tenacity    Genius = "tenacity"
)

// Geniuses is the catalog in canonical order; classification ties resolve to
// the earlier entry.
var Geniuses = []Genius{Wonder, Invention, Discernment, Galvanizing, Enablement, Tenacity}

// Classifier infers a task's affinity tag. Implementations must be
// deterministic for a given task.
type Classifier interface {
	Classify(t domain.Task) Genius
}

// KeywordClassifier is the default heuristic: count keyword hits per genius
// over the task's title and description, highest count wins.
type KeywordClassifier struct {
	Keywords map[Genius][]string
}

var defaultKeywords = map[Genius][]string{
	Wonder:      {"research", "explore", "investigate", "question", "why", "discover"},
	Invention:   {"design", "create", "invent", "prototype", "draft", "brainstorm", "new"},
	Discernment: {"review", "evaluate", "assess", "decide", "choose", "compare", "audit"},
	Galvanizing: {"launch", "announce", "kickoff", "promote", "rally", "present", "pitch"},
	Enablement:  {"help", "support", "assist", "respond", "onboard", "coordinate", "answer"},
	Tenacity:    {"finish", "complete", "ship", "fix", "implement", "build", "deploy", "write"},
}

// NewKeywordClassifier merges extra keywords (from config) over the built-in
// table. Extra entries with unknown genius names are ignored.
func NewKeywordClassifier(extra map[string][]string) KeywordClassifier {
	kw := make(map[Genius][]string, len(defaultKeywords))
	for g, words := range defaultKeywords {
		kw[g] = append([]string(nil), words...)
	}
	for name, words := range extra {
		g := Genius(name)
		if !validGenius(g) {
			continue
		}
		kw[g] = append(kw[g], words...)
	}
	return KeywordClassifier{Keywords: kw}
}

func validGenius(g Genius) bool {
	for _, known := range Geniuses {
		if g == known {
			return true
		}
	}
	return false
}

func (c KeywordClassifier) Classify(t domain.Task) Genius {
	text := strings.ToLower(t.Title + " " + t.Description)
	best := Tenacity
	bestHits := 0
	for _, g := range Geniuses {
		hits := 0
		for _, word := range c.Keywords[g] {
			hits += strings.Count(text, word)
		}
		if hits > bestHits {
			best = g
			bestHits = hits
		}
	}
	return best
}
