package kayas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRunDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Goal != "tidy the downloads folder" {
			t.Fatalf("unexpected goal: %q", req.Goal)
		}
		_ = json.NewEncoder(w).Encode(RunResult{
			RunID:     "run-1",
			Goal:      req.Goal,
			FinalText: "done",
			ActionsTaken: []ActionRecord{
				{Tool: "filesystem.archive_file", Args: map[string]any{"filename": "old.txt"}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.Run(context.Background(), RunRequest{Goal: "tidy the downloads folder"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RunID != "run-1" || result.FinalText != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.ActionsTaken) != 1 || result.ActionsTaken[0].Tool != "filesystem.archive_file" {
		t.Fatalf("unexpected actions: %+v", result.ActionsTaken)
	}
}

func TestSendFeedbackTargetsRun(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var payload struct {
			Feedback string `json:"feedback"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode feedback: %v", err)
		}
		if payload.Feedback != "great summary" {
			t.Fatalf("unexpected feedback: %q", payload.Feedback)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.SendFeedback(context.Background(), "run-7", "great summary"); err != nil {
		t.Fatalf("send feedback: %v", err)
	}
	if gotPath != "/api/v1/runs/run-7/feedback" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
}

func TestWaitForTaskPollsUntilTerminal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks/task-1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		calls++
		status := StatusRunning
		if calls >= 3 {
			status = StatusSucceeded
		}
		_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: status})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	detail, err := client.WaitForTask(context.Background(), "task-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for task: %v", err)
	}
	if detail.Status != StatusSucceeded {
		t.Fatalf("expected terminal status, got %q", detail.Status)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestListTasksBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "5" || q.Get("status") != "pending,running" || q.Get("q") != "report" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Task{{ID: "task-1", Status: StatusPending}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	tasks, err := client.ListTasks(context.Background(), ListTasksOptions{
		Limit:    5,
		Statuses: []string{StatusPending, StatusRunning},
		Query:    "report",
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestAPIErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "goal must not be empty", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Run(context.Background(), RunRequest{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "goal must not be empty" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
