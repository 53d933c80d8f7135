package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/dealsync/internal/model"
)

// PostgresNotificationLogRepo はPostgreSQLを使用した送信ログリポジトリ。
type PostgresNotificationLogRepo struct {
	db *sql.DB
}

// NewPostgresNotificationLogRepo はPostgresNotificationLogRepoを生成する。
func NewPostgresNotificationLogRepo(db *sql.DB) *PostgresNotificationLogRepo {
	return &PostgresNotificationLogRepo{db: db}
}

// Append は送信結果を1件追記する。IDが未設定の場合は採番する。
func (r *PostgresNotificationLogRepo) Append(ctx context.Context, rec *model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_log (id, recipient_id, deal_id, kind, successful, error_message, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.RecipientID, rec.DealID, string(rec.Kind), rec.Successful,
		nullString(rec.ErrorMessage), rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("送信ログの記録に失敗しました: %w", err)
	}
	return nil
}
