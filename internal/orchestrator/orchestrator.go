// Package orchestrator runs the top-level review loop: discover work,
// schedule up to N agent sessions in isolated worktrees, poll their state,
// surface questions, enforce budgets, and checkpoint after every repository
// transition so an interrupted run resumes instead of repeating work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewherd/internal/budget"
	"reviewherd/internal/config"
	"reviewherd/internal/db"
	"reviewherd/internal/digest"
	"reviewherd/internal/discovery"
	"reviewherd/internal/question"
	"reviewherd/internal/session"
	"reviewherd/internal/state"
	"reviewherd/internal/worktree"
)

// reviewedRecentlyWindow is how long a recorded item outcome suppresses its
// re-discovery score.
const reviewedRecentlyWindow = 7 * 24 * time.Hour

// drainGrace is how long Drain waits for active sessions to reach a
// terminal state before interrupting them.
const drainGrace = 30 * time.Second

// ItemSource supplies work items. Backed by the forge client in production
// and by fixtures in tests.
type ItemSource interface {
	DiscoverWorkItems(ctx context.Context, owner string, repos []string) ([]discovery.WorkItem, error)
}

// Orchestrator owns one run.
type Orchestrator struct {
	cfg     *config.Config
	store   *state.Store
	queue   *question.Queue
	driver  session.Driver
	sup     *session.Supervisor
	digests *digest.Cache
	source  ItemSource
	cache   *db.Store // nil when the item cache is unavailable
	holder  state.LockInfo

	pollInterval time.Duration
	now          func() time.Time
}

// Options wires an Orchestrator. Driver and Source are required; Cache may
// be nil.
type Options struct {
	Config *config.Config
	Store  *state.Store
	Queue  *question.Queue
	Driver session.Driver
	Source ItemSource
	Cache  *db.Store
	Holder state.LockInfo
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Driver == nil {
		return nil, errors.New("orchestrator needs a session driver")
	}
	if opts.Source == nil {
		return nil, errors.New("orchestrator needs an item source")
	}
	poll, err := time.ParseDuration(opts.Config.Session.PollInterval)
	if err != nil || poll <= 0 {
		return nil, fmt.Errorf("invalid poll interval %q", opts.Config.Session.PollInterval)
	}
	stall, err := time.ParseDuration(opts.Config.Session.StallTimeout)
	if err != nil || stall <= 0 {
		return nil, fmt.Errorf("invalid stall timeout %q", opts.Config.Session.StallTimeout)
	}
	return &Orchestrator{
		cfg:          opts.Config,
		store:        opts.Store,
		queue:        opts.Queue,
		driver:       opts.Driver,
		sup:          session.NewSupervisor(session.NewMonitor(stall, opts.Config.Session.ErrorSignatures)),
		digests:      digest.NewCache(filepath.Join(opts.Config.StateRoot, "digests")),
		source:       opts.Source,
		cache:        opts.Cache,
		holder:       opts.Holder,
		pollInterval: poll,
		now:          time.Now,
	}, nil
}

// active is the loop's record of one running session.
type active struct {
	repo      string
	session   string
	worktree  string
	prompt    string
	started   time.Time
	parked    bool
	questions int
	items     []discovery.ScoredItem
}

// Run executes one full review run and returns its summary. The returned
// error covers run-level failures only; per-repository failures land in the
// summary and the state store.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	startedAt := o.now()

	items, itemsByRepo, err := o.discover(ctx)
	if err != nil {
		return nil, err
	}
	pending := pendingRepos(items)

	if o.cfg.Review.DryRun {
		return o.dryRunSummary(startedAt, items, pending), nil
	}

	if err := o.store.AcquireRunLock(); err != nil {
		return nil, err
	}
	defer o.store.ReleaseRunLock()

	runID, completed, pending, err := o.resumeOrStart(pending)
	if err != nil {
		return nil, err
	}
	o.holder.RunID = runID

	wt, err := worktree.NewManager(o.cfg.WorkRoot, runID, o.holder)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		if err := o.cache.UpsertItems(ctx, runID, items); err != nil {
			slog.Warn("work-item cache update failed", "err", err)
		}
		if err := o.cache.SetLastSync(ctx, o.cfg.Discovery.Owner, o.now()); err != nil {
			slog.Warn("sync cursor update failed", "err", err)
		}
	}

	tracker := budget.NewTracker(budget.Ceilings{
		MaxRepos:      o.cfg.Review.MaxRepos,
		MaxRuntimeMin: o.cfg.Review.MaxRuntimeMin,
		MaxQuestions:  o.cfg.Review.MaxQuestions,
	})

	r := &run{
		o:          o,
		id:         runID,
		wt:         wt,
		tracker:    tracker,
		items:      itemsByRepo,
		pending:    pending,
		completed:  completed,
		active:     map[string]*active{},
		prefetched: map[string]bool{},
		inFlight:   map[string]bool{},
		startedAt:  startedAt,
	}
	if err := r.checkpoint(ctx); err != nil {
		return nil, err
	}

	summary := r.loop(ctx)
	summary.ItemsFound = len(items)
	for _, item := range items {
		if item.Kind == discovery.KindIssue {
			summary.Issues++
		} else {
			summary.PRs++
		}
	}
	o.finish(ctx, r, summary)
	return summary, nil
}

// discover pulls and scores work items, marking items reviewed within the
// recency window so their score drops.
func (o *Orchestrator) discover(ctx context.Context) ([]discovery.ScoredItem, map[string][]discovery.ScoredItem, error) {
	raw, err := o.source.DiscoverWorkItems(ctx, o.cfg.Discovery.Owner, o.cfg.Discovery.Repos)
	if err != nil {
		return nil, nil, fmt.Errorf("discover work items: %w", err)
	}

	st, err := o.store.Load()
	if err != nil {
		return nil, nil, err
	}
	now := o.now()
	for i := range raw {
		if oc, ok := st.Items[raw[i].Key()]; ok {
			raw[i].ReviewedRecently = now.Sub(oc.RecordedAt) < reviewedRecentlyWindow
		}
	}

	threshold, err := discovery.ParsePriority(o.cfg.Discovery.Threshold)
	if err != nil {
		return nil, nil, err
	}
	scored := discovery.ScoreAndSort(raw, threshold, now)

	byRepo := make(map[string][]discovery.ScoredItem)
	for _, item := range scored {
		byRepo[item.Repo] = append(byRepo[item.Repo], item)
	}
	slog.Info("discovery complete", "items", len(scored), "repos", len(byRepo))
	return scored, byRepo, nil
}

// pendingRepos reduces scored items to unique repositories in first-seen
// order; the item list is already sorted by score.
func pendingRepos(items []discovery.ScoredItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range items {
		if !seen[item.Repo] {
			seen[item.Repo] = true
			out = append(out, item.Repo)
		}
	}
	return out
}

// resumeOrStart decides between resuming an interrupted run and starting
// fresh. A checkpoint with a mismatched config hash never resumes.
func (o *Orchestrator) resumeOrStart(pending []string) (runID string, completed, stillPending []string, err error) {
	cp, err := o.store.ResumeCheckpoint(o.cfg.Hash())
	if err != nil {
		return "", nil, nil, err
	}
	if cp == nil {
		id := state.NewRunID(o.now(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		return id, nil, pending, nil
	}

	slog.Info("resuming interrupted run",
		"run", cp.RunID, "completed", len(cp.CompletedRepos), "pending", len(cp.PendingRepos))
	done := make(map[string]bool, len(cp.CompletedRepos))
	for _, repo := range cp.CompletedRepos {
		done[repo] = true
	}
	var remaining []string
	for _, repo := range pending {
		if !done[repo] {
			remaining = append(remaining, repo)
		}
	}
	return cp.RunID, cp.CompletedRepos, remaining, nil
}

// repoPath maps "owner/name" to its local clone under repos_root.
func (o *Orchestrator) repoPath(repo string) string {
	_, name, ok := strings.Cut(repo, "/")
	if !ok {
		name = repo
	}
	return filepath.Join(o.cfg.Discovery.ReposRoot, name)
}

func (o *Orchestrator) finish(ctx context.Context, r *run, summary *Summary) {
	usage := r.tracker.Usage()
	summary.QuestionsAsked = usage.QuestionsAsked
	summary.Duration = o.now().Sub(r.startedAt)

	if err := o.store.RecordRun(ctx, r.id, state.RunSummary{
		Mode:           o.cfg.Review.Mode,
		Status:         summary.Status,
		ReposTotal:     summary.ReposTotal,
		ReposCompleted: summary.ReposCompleted,
		ReposFailed:    summary.ReposFailed,
		ItemsFound:     summary.ItemsFound,
		Issues:         summary.Issues,
		PRs:            summary.PRs,
		QuestionsAsked: summary.QuestionsAsked,
		StartedAt:      r.startedAt.UTC(),
		FinishedAt:     o.now().UTC(),
	}); err != nil {
		slog.Error("record run summary", "err", err)
	}

	if summary.Status == StatusCompleted {
		if err := o.store.ClearCheckpoint(ctx); err != nil {
			slog.Error("clear checkpoint", "err", err)
		}
		if err := o.queue.Archive(r.id); err != nil {
			slog.Error("archive question queue", "err", err)
		}
		if !o.cfg.Review.KeepWorktrees {
			if err := r.wt.CleanupRun(ctx); err != nil {
				slog.Error("cleanup run dir", "err", err)
			}
		}
	}
	slog.Info("run finished",
		"run", r.id, "status", summary.Status,
		"completed", summary.ReposCompleted, "failed", summary.ReposFailed,
		"duration", summary.Duration.Round(time.Second).String())
}

// agentCommitMessage is used in apply mode to land whatever the agent left
// uncommitted in its worktree.
func agentCommitMessage(repo string) string {
	return fmt.Sprintf("review changes for %s", repo)
}
