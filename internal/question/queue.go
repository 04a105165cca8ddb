package question

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"reviewherd/internal/session"
	"reviewherd/internal/state"
)

const queueFile = "questions.json"

// document is the on-disk shape of the queue.
type document struct {
	Questions []Question `json:"questions"`
}

// Queue is the shared question list. One file, lock-protected, atomically
// written; any process may append or resolve through it.
type Queue struct {
	dir    string
	lock   *state.DirLock
	holder state.LockInfo
}

// NewQueue stores the queue under dir.
func NewQueue(dir string, holder state.LockInfo) *Queue {
	return &Queue{
		dir:    dir,
		lock:   state.NewDirLock(filepath.Join(dir, "questions.lock")),
		holder: holder,
	}
}

func (q *Queue) path() string {
	return filepath.Join(q.dir, queueFile)
}

// Load reads the whole queue without taking the lock. A missing file is an
// empty queue.
func (q *Queue) Load() ([]Question, error) {
	var doc document
	err := state.ReadJSON(q.path(), &doc)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load question queue: %w", err)
	}
	return doc.Questions, nil
}

// mutate applies fn to the queue under the lock and writes the result
// atomically.
func (q *Queue) mutate(ctx context.Context, fn func(qs []Question) ([]Question, error)) error {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	return state.WithLock(ctx, q.lock, q.holder, func() error {
		qs, err := q.Load()
		if err != nil {
			return err
		}
		qs, err = fn(qs)
		if err != nil {
			return err
		}
		if err := state.WriteJSONAtomic(q.path(), document{Questions: qs}); err != nil {
			return fmt.Errorf("save question queue: %w", err)
		}
		return nil
	})
}

// Enqueue appends a question. Returns the stored question.
func (q *Queue) Enqueue(ctx context.Context, question Question) error {
	err := q.mutate(ctx, func(qs []Question) ([]Question, error) {
		return append(qs, question), nil
	})
	if err != nil {
		return err
	}
	slog.Info("question queued",
		"id", question.ID, "repo", question.Repo,
		"session", question.SessionID, "priority", question.Priority.String())
	return nil
}

// HasPendingForSession reports whether the session already has an
// unresolved question, so the monitor enqueues at most one per wait.
func (q *Queue) HasPendingForSession(sessionID string) (bool, error) {
	qs, err := q.Load()
	if err != nil {
		return false, err
	}
	for _, question := range qs {
		if question.SessionID == sessionID && !question.terminal() {
			return true, nil
		}
	}
	return false, nil
}

// Pending returns eligible questions, highest priority first.
func (q *Queue) Pending(now time.Time) ([]Question, error) {
	qs, err := q.Load()
	if err != nil {
		return nil, err
	}
	return SortEligible(qs, now), nil
}

func (q *Queue) transition(ctx context.Context, id string, fn func(*Question) error) (Question, error) {
	var updated Question
	err := q.mutate(ctx, func(qs []Question) ([]Question, error) {
		for i := range qs {
			if qs[i].ID != id {
				continue
			}
			if qs[i].terminal() {
				return nil, fmt.Errorf("question %s already %s", id, qs[i].Status)
			}
			if err := fn(&qs[i]); err != nil {
				return nil, err
			}
			updated = qs[i]
			return qs, nil
		}
		return nil, fmt.Errorf("question %s not found", id)
	})
	return updated, err
}

// MarkAnswered records the answer and closes the question.
func (q *Queue) MarkAnswered(ctx context.Context, id, answer string) (Question, error) {
	return q.transition(ctx, id, func(question *Question) error {
		now := time.Now().UTC()
		question.Status = StatusAnswered
		question.Answer = answer
		question.ResolvedAt = &now
		return nil
	})
}

// MarkSkipped closes the question without an answer.
func (q *Queue) MarkSkipped(ctx context.Context, id string) (Question, error) {
	return q.transition(ctx, id, func(question *Question) error {
		now := time.Now().UTC()
		question.Status = StatusSkipped
		question.ResolvedAt = &now
		return nil
	})
}

// MarkSnoozed hides the question until the given time.
func (q *Queue) MarkSnoozed(ctx context.Context, id string, until time.Time) (Question, error) {
	return q.transition(ctx, id, func(question *Question) error {
		question.Status = StatusSnoozed
		question.SnoozeTill = &until
		return nil
	})
}

// RouteAnswer marks the question answered and delivers the answer to the
// originating session. A session that ended in the meantime still gets the
// answer recorded; the delivery failure is reported so the caller can tell
// the human.
func (q *Queue) RouteAnswer(ctx context.Context, d session.Driver, id, answer string) error {
	question, err := q.MarkAnswered(ctx, id, answer)
	if err != nil {
		return err
	}
	if err := d.SendInput(ctx, question.SessionID, answer); err != nil {
		return fmt.Errorf("deliver answer for %s: %w", id, err)
	}
	slog.Info("answer routed", "id", id, "session", question.SessionID)
	return nil
}

// Archive moves the queue file aside at end of run so the next run starts
// with an empty queue but history is kept.
func (q *Queue) Archive(runID string) error {
	dst := filepath.Join(q.dir, "archive", runID+"-"+queueFile)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create queue archive dir: %w", err)
	}
	if err := os.Rename(q.path(), dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive question queue: %w", err)
	}
	return nil
}
