package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"connector/internal/constants"
	"connector/internal/logger"
	"connector/pkg/logging"
	"connector/pkg/metrics"
)

// PullScheduler runs the pull jobs of link partners in pull mode.
type PullScheduler struct {
	cron   *cron.Cron
	logger logger.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

func NewPullScheduler(log logger.Logger) *PullScheduler {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
	)
	return &PullScheduler{
		cron:   c,
		logger: log,
		jobs:   make(map[string]cron.EntryID),
	}
}

func pullSpec(interval time.Duration) string {
	if interval <= 0 {
		interval = constants.DefaultLinkPullIntervalSeconds * time.Second
	}
	return "@every " + interval.String()
}

// Schedule replaces the pull job of partner.
func (s *PullScheduler) Schedule(partner *ActiveLinkPartner, puller Puller, receiver Receiver) error {
	name := partner.Name()
	spec := pullSpec(partner.Partner.PullInterval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		s.pull(partner, puller, receiver)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pull job for %s: %w", name, err)
	}
	s.jobs[name] = id

	s.logger.Infow("Scheduled pull job",
		"link_partner", name,
		"schedule", spec,
	)
	return nil
}

// Unschedule removes the pull job of partner, if any.
func (s *PullScheduler) Unschedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[name]
	if !ok {
		return
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	s.logger.Infow("Removed pull job", "link_partner", name)
}

func (s *PullScheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

func (s *PullScheduler) pull(partner *ActiveLinkPartner, puller Puller, receiver Receiver) {
	ctx := partner.Context()
	if ctx.Err() != nil {
		return
	}
	ctx = logging.WithLinkPartner(ctx, partner.Name())

	count, err := puller.Pull(ctx, receiver)
	if err != nil {
		metrics.IncLinkPull(partner.Name(), "error")
		s.logger.ErrorwCtx(ctx, "Pull from link partner failed", "error", err)
		return
	}
	metrics.IncLinkPull(partner.Name(), "success")
	if count > 0 {
		s.logger.InfowCtx(ctx, "Pulled messages from link partner", "count", count)
	}
}

func (s *PullScheduler) Start() {
	s.cron.Start()
}

// Run starts the scheduler and stops it when ctx is done, waiting for
// running jobs to finish.
func (s *PullScheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Infow("Pull scheduler started")
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *PullScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Infow("Pull scheduler stopped")
}

type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
