package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresPreferenceRepo はPostgreSQLを使用したディール設定リポジトリ。
// 設定の書き込みはフロントエンドが行うため、読み取りのみを提供する。
type PostgresPreferenceRepo struct {
	db *sql.DB
}

// NewPostgresPreferenceRepo はPostgresPreferenceRepoを生成する。
func NewPostgresPreferenceRepo(db *sql.DB) *PostgresPreferenceRepo {
	return &PostgresPreferenceRepo{db: db}
}

// HiddenRecipientIDs は指定ディールを非表示にした受信者IDを返す。
func (r *PostgresPreferenceRepo) HiddenRecipientIDs(ctx context.Context, dealID int64) ([]int64, error) {
	return r.recipientIDs(ctx,
		`SELECT recipient_id FROM deal_preferences
		 WHERE deal_id = $1 AND is_hidden = true
		 ORDER BY recipient_id`,
		dealID,
	)
}

// FavoritedBy は指定ディールをお気に入りにした受信者IDをID昇順で返す。
func (r *PostgresPreferenceRepo) FavoritedBy(ctx context.Context, dealID int64) ([]int64, error) {
	return r.recipientIDs(ctx,
		`SELECT recipient_id FROM deal_preferences
		 WHERE deal_id = $1 AND is_favorite = true
		 ORDER BY recipient_id`,
		dealID,
	)
}

func (r *PostgresPreferenceRepo) recipientIDs(ctx context.Context, query string, dealID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("ディール設定の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ディール設定行の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ディール設定の走査に失敗しました: %w", err)
	}
	return ids, nil
}
