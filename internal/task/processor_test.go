package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kayas881/kayas-Assistant/internal/agent"
	xerrors "github.com/kayas881/kayas-Assistant/internal/errors"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      error
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	f.processed.Add(1)
	return &agent.RunResult{Goal: req.Goal, FinalText: "ok"}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		goal := fmt.Sprintf("goal-%d", i)
		if _, err := service.Submit(ctx, agent.RunRequest{Goal: goal}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesTransientFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	executor := &fakeExecutor{fail: xerrors.New(xerrors.CodeTransientBackend, "backend hiccup")}

	service := NewService(store, queue, 2)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, agent.RunRequest{Goal: "flaky goal"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		current, err := store.Get(ctx, submitted.ID)
		if err != nil {
			t.Fatalf("查询任务失败: %v", err)
		}
		if current.Status == StatusFailed && current.Attempts >= 2 {
			if current.ErrorCode != string(xerrors.CodeTransientBackend) {
				t.Fatalf("错误码不符: %s", current.ErrorCode)
			}
			cancel()
			return
		}
		select {
		case <-deadline:
			t.Fatalf("任务未在期限内耗尽重试: %+v", current)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

type fallbackRecovery struct{}

func (fallbackRecovery) Recover(_ context.Context, task *Task, cause error) (*ExecutionResult, error) {
	return &ExecutionResult{FinalText: "degraded reply for " + task.Goal}, nil
}

func TestProcessorRecoveryDegradesNonRetryable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	executor := &fakeExecutor{fail: xerrors.New(xerrors.CodeValidation, "bad goal")}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1),
		WithRecoveryHandler(fallbackRecovery{}),
	)

	go func() { _ = processor.Start(ctx) }()

	submitted, err := service.Submit(ctx, agent.RunRequest{Goal: "invalid goal"})
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	task, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务完成失败: %v", err)
	}
	if task.Status != StatusSucceeded {
		t.Fatalf("降级任务应标记成功: %+v", task)
	}
	if task.Result == nil || task.Result.FinalText != "degraded reply for invalid goal" {
		t.Fatalf("降级结果不符: %+v", task.Result)
	}
}

func TestServiceSubmitIdempotent(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)
	ctx := context.Background()

	first, err := service.Submit(ctx, agent.RunRequest{ID: "fixed-id", Goal: "goal one"})
	if err != nil {
		t.Fatalf("首次提交失败: %v", err)
	}
	second, err := service.Submit(ctx, agent.RunRequest{ID: "fixed-id", Goal: "goal two"})
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if second.ID != first.ID || second.Goal != "goal one" {
		t.Fatalf("重复提交应返回已有任务: %+v", second)
	}
}

func TestServiceSubmitRejectsEmptyGoal(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(16), 3)
	if _, err := service.Submit(context.Background(), agent.RunRequest{Goal: "   "}); err == nil {
		t.Fatalf("空目标应报错")
	}
}
