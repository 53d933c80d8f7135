// Package cleanup は送信履歴の保持期間ジョブを提供する。
// 保持期間を超過した送信ログと、無効化済みディールの配信済みマーカーを日次で削除する。
// アクティブなディールのマーカーは再配信を防ぐため期間に関係なく残す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は送信履歴の保持日数のデフォルト値。
const DefaultRetentionDays = 90

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// target は削除対象のテーブルとクエリ。
type target struct {
	table string
	query string
}

var targets = []target{
	{
		table: "notification_log",
		query: `DELETE FROM notification_log WHERE sent_at < now() - $1::interval`,
	},
	{
		table: "digest_sent",
		query: `DELETE FROM digest_sent ds
		        WHERE ds.sent_at < now() - $1::interval
		          AND NOT EXISTS (
		              SELECT 1 FROM deals d WHERE d.deal_id = ds.deal_id AND d.is_active = true)`,
	},
}

// CleanupJob は保持期間を超過した送信履歴の削除ジョブ。
// 冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionDaysが0以下の場合はデフォルト値を使う。
func NewCleanupJob(db Executor, retentionDays int, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は各テーブルの期限切れ行を削除する。最初に失敗した時点でエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	interval := fmt.Sprintf("%d days", j.RetentionDays)

	var total int64
	for _, t := range targets {
		result, err := j.db.ExecContext(ctx, t.query, interval)
		if err != nil {
			j.logger.Error("送信履歴クリーンアップの実行に失敗しました",
				slog.String("table", t.table),
				slog.String("error", err.Error()),
				slog.Int("retention_days", j.RetentionDays),
			)
			return fmt.Errorf("%sのクリーンアップに失敗: %w", t.table, err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			j.logger.Error("削除件数の取得に失敗しました",
				slog.String("table", t.table),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		total += deleted
		j.logger.Debug("テーブルのクリーンアップが完了しました",
			slog.String("table", t.table),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("送信履歴クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("クリーンアップジョブが失敗しました", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("クリーンアップジョブが失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}
