package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"resellbot/internal/models"
	"resellbot/internal/notify"
	"resellbot/internal/panel"
	"resellbot/internal/repository"
)

// Expirer cancels pending payments that were never paid.
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PanelSource resolves the adapter of a server.
type PanelSource interface {
	For(server *models.Server) (panel.Adapter, error)
}

// Deps bundles what the jobs need.
type Deps struct {
	Settlement    Expirer
	Servers       *repository.ServerRepository
	Requests      *repository.PaymentRequestRepository
	Panels        PanelSource
	Notifier      notify.Notifier
	PaymentExpiry time.Duration
	Logger        *zap.Logger
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	deps   Deps
	logger *zap.Logger

	mu   sync.Mutex
	down map[uint]string // server id -> last reported failure
}

// New creates a new cron scheduler.
func New(d Deps) *Scheduler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.PaymentExpiry <= 0 {
		d.PaymentExpiry = 24 * time.Hour
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		deps:   d,
		logger: d.Logger,
		down:   make(map[uint]string),
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...")

	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		// Payment expire - every hour
		{"0 0 * * * *", "payment expire", s.paymentExpire},
		// Panel health check - every 5 minutes
		{"0 */5 * * * *", "panel health", s.panelHealth},
		// Pending receipt reminder - every 30 minutes
		{"0 */30 * * * *", "pending receipts", s.pendingReceipts},
	}
	for _, j := range jobs {
		job := j
		if _, err := s.cron.AddFunc(job.spec, func() {
			s.logger.Debug("Running: " + job.name)
			job.run()
		}); err != nil {
			return fmt.Errorf("register %s: %w", job.name, err)
		}
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) paymentExpire() {
	defer s.recoverFromPanic("paymentExpire")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.deps.Settlement.ExpireStale(ctx, s.deps.PaymentExpiry)
	if err != nil {
		s.logger.Error("Payment expire failed", zap.Error(err))
		return
	}
	s.logger.Debug("Payment expire completed", zap.Int64("expired", n))
}

// panelHealth lists accounts on every active server. The operator hears about a
// server once when it goes down and once when it comes back.
func (s *Scheduler) panelHealth() {
	defer s.recoverFromPanic("panelHealth")

	servers, err := s.deps.Servers.FindActive()
	if err != nil {
		s.logger.Error("Panel health: load servers", zap.Error(err))
		return
	}

	for i := range servers {
		server := &servers[i]
		failure := s.probe(server)

		s.mu.Lock()
		prev, wasDown := s.down[server.ID]
		switch {
		case failure != "" && !wasDown:
			s.down[server.ID] = failure
		case failure == "" && wasDown:
			delete(s.down, server.ID)
		}
		s.mu.Unlock()

		switch {
		case failure != "" && !wasDown:
			s.alert(fmt.Sprintf("Panel %s (%s) is unreachable: %s", server.Name, server.BaseURL, failure))
		case failure == "" && wasDown:
			s.alert(fmt.Sprintf("Panel %s is back online (was: %s)", server.Name, prev))
		}
	}
}

// probe returns a short failure description, or "" when the server answers.
// Only reachability and credential failures count as down.
func (s *Scheduler) probe(server *models.Server) string {
	adapter, err := s.deps.Panels.For(server)
	if err != nil {
		return err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = adapter.ListAccounts(ctx)
	if err == nil {
		return ""
	}
	log := s.logger.With(zap.Uint("server_id", server.ID), zap.String("server", server.Name))
	if errors.Is(err, panel.ErrNetwork) || errors.Is(err, panel.ErrAuthentication) {
		log.Warn("Panel health check failed", zap.Error(err))
		return panel.Describe(err)
	}
	log.Debug("Panel health check returned an error", zap.Error(err))
	return ""
}

func (s *Scheduler) pendingReceipts() {
	defer s.recoverFromPanic("pendingReceipts")

	reqs, err := s.deps.Requests.FindPending(0)
	if err != nil {
		s.logger.Error("Pending receipts: load", zap.Error(err))
		return
	}
	if len(reqs) == 0 {
		return
	}
	s.alert(fmt.Sprintf("%d receipt(s) waiting for review, oldest #%d.", len(reqs), reqs[0].ID))
}

func (s *Scheduler) alert(text string) {
	if s.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deps.Notifier.NotifyOperator(ctx, text); err != nil {
		s.logger.Warn("Operator notification failed", zap.Error(err))
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
