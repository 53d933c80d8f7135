package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner はサイクルを1回実行する。Orchestratorが満たす。
type Runner interface {
	RunCycle(ctx context.Context, trig Trigger) (*CycleReport, error)
}

// Scheduler はcron式に従ってサイクルを定期実行する。
type Scheduler struct {
	runner       Runner
	spec         string
	location     *time.Location
	runOnStartup bool
	logger       *slog.Logger
}

// NewScheduler はSchedulerを生成する。specは5フィールドの標準cron式。
func NewScheduler(runner Runner, spec string, location *time.Location, runOnStartup bool, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("cron式が不正です (%q): %w", spec, err)
	}
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		runner:       runner,
		spec:         spec,
		location:     location,
		runOnStartup: runOnStartup,
		logger:       logger,
	}, nil
}

// Start はスケジューラを起動し、コンテキストがキャンセルされるまでブロックする。
// runOnStartupが有効な場合は起動直後に1回実行する。
// 停止時は実行中のジョブの終了を待ってから返る。
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.location))
	if _, err := c.AddFunc(s.spec, func() { s.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("ジョブの登録に失敗しました: %w", err)
	}
	c.Start()

	s.logger.Info("サイクルスケジューラを開始しました",
		slog.String("schedule", s.spec),
		slog.String("timezone", s.location.String()),
		slog.Bool("run_on_startup", s.runOnStartup),
	)

	if s.runOnStartup {
		s.runScheduled(ctx)
	}

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("サイクルスケジューラを停止しました")
	return nil
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.RunCycle(ctx, Trigger{Kind: TriggerScheduled})
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		s.logger.Warn("実行中のサイクルがあるため定期実行をスキップしました")
	case errors.Is(err, context.Canceled):
		s.logger.Info("サイクルが中断されました")
	default:
		// 失敗の詳細はOrchestratorが記録済み
	}
}
