package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"reviewherd/internal/budget"
	"reviewherd/internal/discovery"
	"reviewherd/internal/gitx"
	"reviewherd/internal/question"
	"reviewherd/internal/session"
	"reviewherd/internal/state"
	"reviewherd/internal/worktree"
)

// run is the mutable state of one executing run. Owned by the loop
// goroutine; the mutex covers only the prefetch bookkeeping shared with
// prefetch workers.
type run struct {
	o       *Orchestrator
	id      string
	wt      *worktree.Manager
	tracker *budget.Tracker
	items   map[string][]discovery.ScoredItem

	pending   []string
	completed []string
	failed    []string
	active    map[string]*active

	mu         sync.Mutex
	prefetched map[string]bool
	inFlight   map[string]bool

	startedAt time.Time
	draining  bool
	drainFrom time.Time
	status    string
}

// loop is the tick-driven control loop. Each tick: budget check, schedule,
// prefetch, poll. It exits when no work remains or Drain runs out of grace.
func (r *run) loop(ctx context.Context) *Summary {
	ticker := time.NewTicker(r.o.pollInterval)
	defer ticker.Stop()

	r.status = StatusCompleted
	for {
		if !r.draining {
			if ctx.Err() != nil {
				r.startDrain(ctx, StatusInterrupted)
			} else if !r.tracker.Check() {
				r.startDrain(ctx, StatusBudgetStop)
			}
		}
		if !r.draining {
			r.schedule(ctx)
			r.prefetch(ctx)
		}
		if transitions := r.poll(ctx); transitions {
			if err := r.checkpoint(ctx); err != nil {
				slog.Error("checkpoint", "err", err)
			}
		}

		if len(r.active) == 0 && (r.draining || len(r.pending) == 0) {
			break
		}
		if r.draining && r.o.now().Sub(r.drainFrom) > drainGrace {
			r.interruptRemaining(ctx)
			break
		}

		if r.draining {
			<-ticker.C
			continue
		}
		select {
		case <-ctx.Done():
			// Handled at the top of the next iteration.
		case <-ticker.C:
		}
	}
	return r.summary()
}

func (r *run) startDrain(ctx context.Context, status string) {
	r.draining = true
	r.drainFrom = r.o.now()
	r.status = status
	slog.Warn("draining run", "reason", status, "active", len(r.active), "pending", len(r.pending))
	if err := r.checkpoint(ctx); err != nil {
		slog.Error("checkpoint at drain", "err", err)
	}
}

// interruptRemaining softly interrupts sessions still active when the drain
// grace runs out. Interrupt, not Stop: the sessions stay inspectable.
func (r *run) interruptRemaining(ctx context.Context) {
	cleanup := context.WithoutCancel(ctx)
	for repo, a := range r.active {
		if err := r.o.driver.Interrupt(cleanup, a.session); err != nil {
			slog.Warn("interrupt session", "repo", repo, "err", err)
		}
		r.o.sup.Forget(a.session)
		slog.Info("session left for inspection", "repo", repo, "session", a.session)
	}
}

// schedule fills idle capacity from the head of the pending list.
func (r *run) schedule(ctx context.Context) {
	for len(r.active) < r.o.cfg.Review.Parallel && len(r.pending) > 0 {
		repo := r.pending[0]
		if r.preparing(repo) {
			// A prefetch worker holds this repo; try again next tick.
			return
		}
		r.pending = r.pending[1:]

		// The budget counts sessions actually started; a skipped or
		// unstartable repo consumes nothing.
		if err := r.start(ctx, repo); err == nil {
			r.tracker.IncrementReposStarted()
		} else {
			switch {
			case errors.Is(err, worktree.ErrSkipRepo):
				slog.Warn("skipping repo without a local clone", "repo", repo)
				r.recordRepo(ctx, repo, "skipped", 0, 0)
				r.completed = append(r.completed, repo)
			default:
				slog.Error("start repo review", "repo", repo, "err", err)
				r.recordRepo(ctx, repo, "failed", 0, 0)
				r.failed = append(r.failed, repo)
			}
			if err := r.checkpoint(ctx); err != nil {
				slog.Error("checkpoint", "err", err)
			}
		}
	}
}

// start prepares (or adopts a prefetched) worktree and launches a session.
func (r *run) start(ctx context.Context, repo string) error {
	wtPath, err := r.prepareWorktree(ctx, repo)
	if err != nil {
		return err
	}
	prompt := buildPrompt(repo, r.o.cfg.Review.Mode, r.items[repo])
	sid, err := r.o.driver.Start(ctx, wtPath, prompt)
	if err != nil {
		return err
	}
	r.active[repo] = &active{
		repo:     repo,
		session:  sid,
		worktree: wtPath,
		prompt:   prompt,
		started:  r.o.now(),
		items:    r.items[repo],
	}
	slog.Info("session started", "repo", repo, "session", sid, "items", len(r.items[repo]))
	return nil
}

func (r *run) prepareWorktree(ctx context.Context, repo string) (string, error) {
	if entry, ok, err := r.wt.Lookup(repo); err == nil && ok {
		return entry.WorktreePath, nil
	}
	wtPath, err := r.wt.Prepare(ctx, repo, r.o.repoPath(repo), "")
	if err != nil {
		return "", err
	}
	if err := r.o.digests.Apply(ctx, repo, wtPath); err != nil {
		slog.Warn("apply digest", "repo", repo, "err", err)
	}
	return wtPath, nil
}

func (r *run) preparing(repo string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight[repo]
}

// prefetch warms the worktrees of the next few pending repositories in the
// background so a freed slot starts reviewing immediately. Never looks past
// the end of the pending list.
func (r *run) prefetch(ctx context.Context) {
	window := r.o.cfg.Review.PrefetchWindow
	if window > len(r.pending) {
		window = len(r.pending)
	}
	for _, repo := range r.pending[:window] {
		r.mu.Lock()
		skip := r.prefetched[repo] || r.inFlight[repo]
		if !skip {
			r.prefetched[repo] = true
			r.inFlight[repo] = true
		}
		r.mu.Unlock()
		if skip {
			continue
		}
		go func(repo string) {
			defer func() {
				r.mu.Lock()
				delete(r.inFlight, repo)
				r.mu.Unlock()
			}()
			if _, err := r.prepareWorktree(ctx, repo); err != nil {
				// Scheduling will retry and record the real outcome.
				slog.Debug("prefetch failed", "repo", repo, "err", err)
			}
		}(repo)
	}
}

// poll classifies every active session and applies the per-state policy.
// Returns whether any repository transitioned.
func (r *run) poll(ctx context.Context) bool {
	repos := make([]string, 0, len(r.active))
	for repo := range r.active {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	transitions := false
	for _, repo := range repos {
		a := r.active[repo]
		raw, err := r.o.driver.RawState(ctx, a.session)
		if err != nil {
			slog.Error("session vanished", "repo", repo, "session", a.session, "err", err)
			r.fail(ctx, repo, a)
			transitions = true
			continue
		}
		switch r.o.sup.Observe(a.session, raw, r.o.now()) {
		case session.StateComplete:
			r.complete(ctx, repo, a)
			transitions = true
		case session.StateError:
			slog.Error("session errored", "repo", repo, "session", a.session)
			r.fail(ctx, repo, a)
			transitions = true
		case session.StateWaiting:
			r.park(ctx, repo, a, raw.Output)
		case session.StateStalled:
			r.recoverStalled(ctx, repo, a)
		default:
			a.parked = false
		}
	}
	return transitions
}

// complete records outcomes, refreshes the digest cache, and releases the
// worktree (kept when configured).
func (r *run) complete(ctx context.Context, repo string, a *active) {
	if r.o.cfg.Review.Mode == "apply" {
		if err := gitx.EnsureClean(ctx, a.worktree); errors.Is(err, gitx.ErrDirty) {
			if _, err := gitx.CommitAll(ctx, a.worktree, agentCommitMessage(repo)); err != nil {
				slog.Error("commit agent changes", "repo", repo, "err", err)
			}
		}
	}
	if err := r.o.digests.Update(ctx, repo, a.worktree); err != nil {
		slog.Warn("update digest", "repo", repo, "err", err)
	}
	for _, item := range a.items {
		if err := r.o.store.RecordItemOutcome(ctx, item.Key(), state.ItemOutcome{
			Type:    string(item.Kind),
			Outcome: "reviewed",
		}); err != nil {
			slog.Error("record item outcome", "item", item.Key(), "err", err)
		}
	}
	duration := int(r.o.now().Sub(a.started).Seconds())
	r.recordRepo(ctx, repo, "completed", duration, len(a.items))

	if err := r.o.driver.Stop(context.WithoutCancel(ctx), a.session); err != nil {
		slog.Debug("stop completed session", "repo", repo, "err", err)
	}
	r.o.sup.Forget(a.session)
	if !r.o.cfg.Review.KeepWorktrees {
		if err := r.wt.Release(ctx, repo); err != nil {
			slog.Warn("release worktree", "repo", repo, "err", err)
		}
	}
	delete(r.active, repo)
	r.completed = append(r.completed, repo)
	slog.Info("repo review complete", "repo", repo, "duration_s", duration)
}

// fail records the failure and stops the session. The worktree is kept for
// post-mortem regardless of configuration.
func (r *run) fail(ctx context.Context, repo string, a *active) {
	for _, item := range a.items {
		if err := r.o.store.RecordItemOutcome(ctx, item.Key(), state.ItemOutcome{
			Type:    string(item.Kind),
			Outcome: "failed",
			Note:    "session ended in error",
		}); err != nil {
			slog.Error("record item outcome", "item", item.Key(), "err", err)
		}
	}
	duration := int(r.o.now().Sub(a.started).Seconds())
	r.recordRepo(ctx, repo, "failed", duration, len(a.items))

	if err := r.o.driver.Stop(context.WithoutCancel(ctx), a.session); err != nil {
		slog.Debug("stop failed session", "repo", repo, "err", err)
	}
	r.o.sup.Forget(a.session)
	delete(r.active, repo)
	r.failed = append(r.failed, repo)
}

// park raises at most one question per waiting session and leaves it
// active; the loop keeps polling so an answered session resumes naturally.
func (r *run) park(ctx context.Context, repo string, a *active, output string) {
	if a.parked {
		return
	}
	pending, err := r.o.queue.HasPendingForSession(a.session)
	if err != nil {
		slog.Error("check pending questions", "session", a.session, "err", err)
		return
	}
	if pending {
		a.parked = true
		return
	}
	info := session.DetectWaitReason(output, r.o.now())
	prio := discovery.PriorityNormal
	if len(a.items) > 0 {
		prio = a.items[0].Level
	}
	if info.Risk == session.RiskHigh {
		prio = discovery.PriorityCritical
	}
	q := question.New(a.session, repo, prio, info)
	if files, ins, del, err := gitx.DiffStat(ctx, a.worktree); err == nil && files > 0 {
		q.Context.PatchSummary = &question.PatchSummary{Files: files, Insertions: ins, Deletions: del}
	}
	if err := r.o.queue.Enqueue(ctx, q); err != nil {
		slog.Error("enqueue question", "repo", repo, "err", err)
		return
	}
	r.tracker.IncrementQuestionsAsked()
	a.questions++
	a.parked = true
	slog.Info("session waiting on human",
		"repo", repo, "session", a.session, "reason", string(info.Reason))
}

// recoverStalled escalates; a hard restart relaunches the same prompt in
// the same worktree under a fresh session id.
func (r *run) recoverStalled(ctx context.Context, repo string, a *active) {
	restart, err := r.o.sup.RecoverStalled(ctx, r.o.driver, a.session)
	if err != nil {
		slog.Error("stall recovery", "repo", repo, "err", err)
		r.fail(ctx, repo, a)
		return
	}
	if !restart {
		return
	}
	r.o.sup.Forget(a.session)
	sid, err := r.o.driver.Start(ctx, a.worktree, a.prompt)
	if err != nil {
		slog.Error("restart stalled session", "repo", repo, "err", err)
		r.fail(ctx, repo, a)
		return
	}
	slog.Warn("session hard-restarted", "repo", repo, "old", a.session, "new", sid)
	a.session = sid
	a.parked = false
	a.started = r.o.now()
}

func (r *run) recordRepo(ctx context.Context, repo, outcome string, durationSec, items int) {
	questions := 0
	if a, ok := r.active[repo]; ok {
		questions = a.questions
	}
	if err := r.o.store.RecordRepoOutcome(ctx, repo, state.RepoOutcome{
		Outcome:         outcome,
		DurationSeconds: durationSec,
		Items:           items,
		Questions:       questions,
	}); err != nil {
		slog.Error("record repo outcome", "repo", repo, "err", err)
	}
}

// checkpoint persists progress. Active repositories count as pending so an
// interrupted run re-runs them; failed ones count as handled so it does
// not.
func (r *run) checkpoint(ctx context.Context) error {
	handled := append(append([]string{}, r.completed...), r.failed...)
	pending := make([]string, 0, len(r.active)+len(r.pending))
	for repo := range r.active {
		pending = append(pending, repo)
	}
	sort.Strings(pending)
	pending = append(pending, r.pending...)

	return r.o.store.SaveCheckpoint(ctx, &state.Checkpoint{
		RunID:          r.id,
		Mode:           r.o.cfg.Review.Mode,
		ConfigHash:     r.o.cfg.Hash(),
		ReposTotal:     len(handled) + len(pending),
		CompletedRepos: handled,
		PendingRepos:   pending,
	})
}

func (r *run) summary() *Summary {
	return &Summary{
		RunID:          r.id,
		Mode:           r.o.cfg.Review.Mode,
		Status:         r.status,
		ReposTotal:     len(r.completed) + len(r.failed) + len(r.pending) + len(r.active),
		ReposCompleted: len(r.completed),
		ReposFailed:    len(r.failed),
	}
}
