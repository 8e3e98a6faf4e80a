package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"prospectcrm/internal/domain/progression"
)

const JobScoreSweep = "score_sweep"

const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// Sweeper recomputes the scores of every customer in progress.
type Sweeper interface {
	SweepScores(ctx context.Context) (progression.SweepResult, error)
}

// RunLog persists one row per job run.
type RunLog interface {
	Begin(ctx context.Context, jobType string) (string, error)
	Finish(ctx context.Context, runID, status string, details []byte) error
}

type Service struct {
	log      RunLog
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
	queue    chan job
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

func New(log RunLog, sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		log:      log,
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		queue:    make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.interval > 0 && s.sweeper != nil {
		go s.scheduleSweeps(ctx, s.interval)
	}
}

// Enqueue hands a job to the background worker. It never blocks; a full
// queue drops the job with a warning.
func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) bool {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
		return true
	default:
		s.logger.Warn("job queue full", "jobType", jobType)
		return false
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

// SweepNow runs a score sweep synchronously and records it like a scheduled one.
func (s *Service) SweepNow(ctx context.Context) (progression.SweepResult, error) {
	out, err := s.RunNow(ctx, JobScoreSweep, s.sweep)
	res, _ := out.(progression.SweepResult)
	return res, err
}

func (s *Service) sweep(ctx context.Context) (any, error) {
	return s.sweeper.SweepScores(ctx)
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.logger.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if s.log != nil {
		id, err := s.log.Begin(ctx, j.Type)
		if err != nil {
			s.logger.Warn("job run insert failed", "jobType", j.Type, "err", err)
		}
		runID = id
	}

	started := time.Now()
	details, err := j.Run(ctx)
	status := statusCompleted
	if err != nil {
		status = statusFailed
	}
	s.logger.Info("job finished", "jobType", j.Type, "status", status, "durationMs", time.Since(started).Milliseconds())

	if runID != "" {
		detailsJSON, marshalErr := json.Marshal(details)
		if marshalErr != nil {
			s.logger.Warn("job details marshal failed", "err", marshalErr)
			detailsJSON = []byte("{}")
		}
		if updErr := s.log.Finish(ctx, runID, status, detailsJSON); updErr != nil {
			s.logger.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Enqueue(JobScoreSweep, s.sweep)
		}
	}
}

// PGRunLog writes job runs to the job_runs table.
type PGRunLog struct {
	DB *pgxpool.Pool
}

func (l PGRunLog) Begin(ctx context.Context, jobType string) (string, error) {
	var id string
	err := l.DB.QueryRow(ctx, `
    INSERT INTO job_runs (job_type, status)
    VALUES ($1, $2)
    RETURNING id::text
  `, jobType, statusRunning).Scan(&id)
	return id, err
}

func (l PGRunLog) Finish(ctx context.Context, runID, status string, details []byte) error {
	_, err := l.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3::bigint
  `, status, details, runID)
	return err
}
