// Package scheduler runs the pipeline jobs on cron cadences inside the serve
// command.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/jobs"
)

// Runner is one schedulable batch job.
type Runner interface {
	Run(ctx context.Context, opts jobs.Options) (jobs.Summary, error)
}

// Entry binds a job to a cron expression. An empty Spec disables the entry.
type Entry struct {
	Name    string
	Spec    string
	Job     Runner
	Options jobs.Options
}

// Status describes a registered entry.
type Status struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

// Scheduler wraps a cron instance whose jobs share one lifecycle context.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Scheduler using the standard five-field cron syntax.
// Overlapping firings of the same job are skipped, and panics are recovered.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    c,
		parser:  parser,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers an entry. Names must be unique.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.Job == nil {
		return errors.New("scheduler: entry needs a name and a job")
	}
	if e.Spec == "" {
		s.logger.Info("job disabled", zap.String("job", e.Name))
		return nil
	}
	if _, err := s.parser.Parse(e.Spec); err != nil {
		return fmt.Errorf("scheduler: parse %s schedule %q: %w", e.Name, e.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("scheduler: duplicate entry %s", e.Name)
	}
	id, err := s.cron.AddFunc(e.Spec, s.trigger(e))
	if err != nil {
		return fmt.Errorf("scheduler: add %s: %w", e.Name, err)
	}
	s.entries[e.Name] = id
	s.specs[e.Name] = e.Spec
	s.logger.Info("job scheduled", zap.String("job", e.Name), zap.String("schedule", e.Spec))
	return nil
}

func (s *Scheduler) trigger(e Entry) func() {
	return func() {
		sum, err := e.Job.Run(s.ctx, e.Options)
		switch {
		case err != nil:
			s.logger.Error("scheduled run failed", zap.String("job", e.Name), zap.Error(err))
		case sum.Unavailable != "":
			s.logger.Warn("scheduled run skipped", zap.String("job", e.Name),
				zap.String("unavailable", string(sum.Unavailable)))
		default:
			s.logger.Debug("scheduled run finished", zap.String("job", e.Name), zap.Stringer("summary", sum))
		}
	}
}

// Entries lists the registered jobs ordered by name.
func (s *Scheduler) Entries() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for name, id := range s.entries {
		out = append(out, Status{Name: name, Spec: s.specs[name], Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing entries in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Entries())))
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
