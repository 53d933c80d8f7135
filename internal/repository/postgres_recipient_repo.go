package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dealsync/internal/model"
	"github.com/lib/pq"
)

const recipientColumns = `id, username, location_id, notifications_enabled,
	category_mode, categories, created_at, updated_at`

// PostgresRecipientRepo はPostgreSQLを使用した受信者リポジトリ。
type PostgresRecipientRepo struct {
	db *sql.DB
}

// NewPostgresRecipientRepo はPostgresRecipientRepoを生成する。
func NewPostgresRecipientRepo(db *sql.DB) *PostgresRecipientRepo {
	return &PostgresRecipientRepo{db: db}
}

// FindByID は指定IDの受信者を取得する。見つからない場合はnilを返す。
func (r *PostgresRecipientRepo) FindByID(ctx context.Context, id int64) (*model.Recipient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = $1`,
		id,
	)
	rc, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("受信者の取得に失敗しました: %w", err)
	}
	return rc, nil
}

// ListEnabled は通知が有効な全受信者をID昇順で返す。
func (r *PostgresRecipientRepo) ListEnabled(ctx context.Context) ([]*model.Recipient, error) {
	return r.list(ctx,
		`SELECT `+recipientColumns+` FROM recipients
		 WHERE notifications_enabled = true
		 ORDER BY id`,
	)
}

// ListEnabledByLocation は指定ロケーションで通知が有効な受信者をID昇順で返す。
func (r *PostgresRecipientRepo) ListEnabledByLocation(ctx context.Context, locationID int64) ([]*model.Recipient, error) {
	return r.list(ctx,
		`SELECT `+recipientColumns+` FROM recipients
		 WHERE notifications_enabled = true AND location_id = $1
		 ORDER BY id`,
		locationID,
	)
}

// ListEnabledLocations は通知が有効な受信者のロケーションを重複なしで昇順に返す。
func (r *PostgresRecipientRepo) ListEnabledLocations(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT location_id FROM recipients
		 WHERE notifications_enabled = true AND location_id IS NOT NULL
		 ORDER BY location_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("ロケーション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var locations []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ロケーション行の読み取りに失敗しました: %w", err)
		}
		locations = append(locations, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ロケーション一覧の走査に失敗しました: %w", err)
	}
	return locations, nil
}

func (r *PostgresRecipientRepo) list(ctx context.Context, query string, args ...any) ([]*model.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("受信者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var recipients []*model.Recipient
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("受信者行の読み取りに失敗しました: %w", err)
		}
		recipients = append(recipients, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("受信者一覧の走査に失敗しました: %w", err)
	}
	return recipients, nil
}

func scanRecipient(s rowScanner) (*model.Recipient, error) {
	rc := &model.Recipient{}
	var username sql.NullString
	var locationID sql.NullInt64
	var mode string
	var categories []int64

	err := s.Scan(
		&rc.ID, &username, &locationID, &rc.NotificationsEnabled,
		&mode, pq.Array(&categories), &rc.CreatedAt, &rc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rc.Username = nullStringValue(username)
	if locationID.Valid {
		loc := locationID.Int64
		rc.LocationID = &loc
	}
	filter, err := model.ParseCategoryFilter(mode, categories)
	if err != nil {
		return nil, err
	}
	rc.Categories = filter
	return rc, nil
}
