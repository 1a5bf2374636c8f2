package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hadoku/internal/logger"
	"hadoku/internal/prices"
)

// Service owns backtest run lifecycle: synchronous runs for the CLI and
// fire-and-forget runs for the HTTP API.
type Service struct {
	store *RunStore
	bars  prices.Provider

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewService wires the run store and the optional recorded-bar provider.
func NewService(store *RunStore, bars prices.Provider) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("backtest: service requires a run store")
	}
	return &Service{
		store:   store,
		bars:    bars,
		running: make(map[string]context.CancelFunc),
	}, nil
}

// Run executes a backtest synchronously and persists the result.
func (s *Service) Run(ctx context.Context, cfg Config) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusRunning,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		return Run{}, err
	}
	results, err := s.execute(ctx, run.ID, cfg)
	if err != nil {
		_ = s.store.UpdateRunStatus(context.Background(), run.ID, RunStatusFailed, err.Error())
		return Run{}, err
	}
	run.Status = RunStatusDone
	run.Results = results
	return run, nil
}

// StartRun launches a backtest in the background and returns its id.
func (s *Service) StartRun(cfg Config) (string, error) {
	id := uuid.NewString()
	run := Run{
		ID:        id,
		Status:    RunStatusPending,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertRun(context.Background(), run); err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
			cancel()
		}()
		if err := s.store.UpdateRunStatus(ctx, id, RunStatusRunning, ""); err != nil {
			logger.Errorf("backtest: run %s: %v", id, err)
			return
		}
		if _, err := s.execute(ctx, id, cfg); err != nil {
			logger.Errorf("backtest: run %s failed: %v", id, err)
			_ = s.store.UpdateRunStatus(context.Background(), id, RunStatusFailed, err.Error())
		}
	}()
	return id, nil
}

func (s *Service) execute(ctx context.Context, id string, cfg Config) ([]AgentResult, error) {
	sim, err := NewSimulator(cfg, s.bars)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	results, err := sim.Run(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.CompleteRun(ctx, id, results); err != nil {
		return nil, err
	}
	logger.Infof("backtest: run %s finished in %s", id, time.Since(started).Round(time.Millisecond))
	return results, nil
}

// Get returns a stored run with its results.
func (s *Service) Get(ctx context.Context, id string) (Run, error) {
	return s.store.GetRun(ctx, id)
}

// List returns recent runs without payloads.
func (s *Service) List(ctx context.Context, limit int) ([]Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// Shutdown cancels all in-flight runs.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.running {
		cancel()
		delete(s.running, id)
	}
}
