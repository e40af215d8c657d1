package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"questdeck/internal/config"
	"questdeck/internal/db"
	"questdeck/internal/engine"
	"questdeck/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	resp, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
}

func TestGoalLifecycleOverHTTP(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	base := srv.URL + "/v0"

	resp, data := doJSON(t, srv.Client(), http.MethodPost, base+"/orgs/org-1/goals", CreateGoalRequest{Title: "Grow signups"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create goal: %d %s", resp.StatusCode, data)
	}
	goal := decode[GoalResponse](t, data)
	if goal.Status != "draft" {
		t.Fatalf("goal status = %s", goal.Status)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/goals/"+goal.ID+"/status", SetGoalStatusRequest{Status: "clarified"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set status: %d %s", resp.StatusCode, data)
	}

	// skipping clarified -> decomposed must be rejected with the envelope
	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/goals/"+goal.ID+"/status", SetGoalStatusRequest{Status: "decomposed"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid transition: %d %s", resp.StatusCode, data)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error envelope = %s", data)
	}

	resp, _ = doJSON(t, srv.Client(), http.MethodGet, base+"/goals/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing goal: %d", resp.StatusCode)
	}
}

func TestTaskVersionConflictOverHTTP(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	base := srv.URL + "/v0"

	resp, data := doJSON(t, srv.Client(), http.MethodPost, base+"/orgs/org-1/tasks", CreateTaskRequest{Title: "Contended"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", resp.StatusCode, data)
	}
	task := decode[TaskResponse](t, data)
	stale := task.Version

	status := "in_progress"
	resp, data = doJSON(t, srv.Client(), http.MethodPatch, base+"/tasks/"+task.ID, UpdateTaskRequest{Status: &status, ExpectedVersion: &stale})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first guarded write: %d %s", resp.StatusCode, data)
	}

	done2 := "done"
	resp, data = doJSON(t, srv.Client(), http.MethodPatch, base+"/tasks/"+task.ID, UpdateTaskRequest{Status: &done2, ExpectedVersion: &stale})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale write: %d %s", resp.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "version_conflict" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
	if envelope.Error.Details["actual_version"] == nil || envelope.Error.Details["latest"] == nil {
		t.Fatalf("conflict details missing: %v", envelope.Error.Details)
	}
}

func TestOrchestrationRunOverHTTP(t *testing.T) {
	srv, done := newTestServer(t)
	defer done()
	base := srv.URL + "/v0"

	resp, data := doJSON(t, srv.Client(), http.MethodPost, base+"/orgs/org-1/quests", CreateQuestRequest{Title: "Ship beta"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create quest: %d %s", resp.StatusCode, data)
	}
	quest := decode[QuestResponse](t, data)
	if quest.State != "unlocked" {
		t.Fatalf("quest state = %s", quest.State)
	}
	questID := quest.ID
	for i := 0; i < 3; i++ {
		minutes := 60
		resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/orgs/org-1/tasks", CreateTaskRequest{
			Title: fmt.Sprintf("Fix bug %d", i), QuestID: &questID, EstimatedMinutes: &minutes,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create task %d: %d %s", i, resp.StatusCode, data)
		}
	}
	resp, data = doJSON(t, srv.Client(), http.MethodPut, base+"/orgs/org-1/members/m-ada", UpsertMemberRequest{
		Name: "Ada", Top2: []string{"tenacity"}, DailyCapacityMinutes: 240,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert member: %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/orgs/org-1/runs", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("trigger run: %d %s", resp.StatusCode, data)
	}
	run := decode[engine.RunResult](t, data)
	if len(run.TasksAssigned) != 3 || run.DeckSize != 3 {
		t.Fatalf("run result = %+v", run)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/orgs/org-1/decks/2024-01-01", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get deck: %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/orgs/org-1/runs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list runs: %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/orgs/org-1/events?type=task.assigned", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d %s", resp.StatusCode, data)
	}
	evts := decode[[]EventResponse](t, data)
	if len(evts) != 3 {
		t.Fatalf("assigned facts = %d", len(evts))
	}
}
