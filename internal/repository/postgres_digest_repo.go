package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dealsync/internal/model"
	"github.com/lib/pq"
)

// PostgresDigestRepo はPostgreSQLを使用したダイジェスト配信リポジトリ。
type PostgresDigestRepo struct {
	db *sql.DB
}

// NewPostgresDigestRepo はPostgresDigestRepoを生成する。
func NewPostgresDigestRepo(db *sql.DB) *PostgresDigestRepo {
	return &PostgresDigestRepo{db: db}
}

// IsSent は受信者にディールを配信済みかを返す。
func (r *PostgresDigestRepo) IsSent(ctx context.Context, recipientID, dealID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM digest_sent WHERE recipient_id = $1 AND deal_id = $2)`,
		recipientID, dealID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("配信済みマーカーの確認に失敗しました: %w", err)
	}
	return exists, nil
}

// MarkSent は配信済みマーカーを記録する。既に存在する場合は何もしない。
func (r *PostgresDigestRepo) MarkSent(ctx context.Context, recipientID, dealID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO digest_sent (recipient_id, deal_id, sent_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (recipient_id, deal_id) DO NOTHING`,
		recipientID, dealID,
	)
	if err != nil {
		return fmt.Errorf("配信済みマーカーの記録に失敗しました: %w", err)
	}
	return nil
}

// ListCandidates は受信者向けの未配信ディールを1ページ分返す。
// ロケーション未設定、またはカテゴリ設定が none の受信者には常に空を返す。
func (r *PostgresDigestRepo) ListCandidates(ctx context.Context, rc *model.Recipient, limit, offset int) ([]*model.DealWithProduct, error) {
	if rc.LocationID == nil || rc.Categories.Mode() == model.CategoryFilterNone {
		return nil, nil
	}

	query := `SELECT ` + dealColumns + `,
		       p.id, p.code, p.brand, p.name, p.spec, p.category, p.second_category,
		       p.image_url, p.frequency, p.created_at, p.updated_at
		FROM deals d
		JOIN products p ON p.id = d.product_id
		WHERE d.is_active = true
		  AND d.is_latest = true
		  AND d.location_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM deal_preferences dp
		      WHERE dp.deal_id = d.deal_id AND dp.recipient_id = $2 AND dp.is_hidden = true)
		  AND NOT EXISTS (
		      SELECT 1 FROM digest_sent ds
		      WHERE ds.deal_id = d.deal_id AND ds.recipient_id = $2)`
	args := []any{*rc.LocationID, rc.ID}

	if rc.Categories.Mode() == model.CategoryFilterSome {
		args = append(args, pq.Array(rc.Categories.Int64IDs()))
		query += fmt.Sprintf(` AND d.category = ANY($%d)`, len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY d.first_seen_at DESC, d.deal_id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ダイジェスト候補の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []*model.DealWithProduct
	for rows.Next() {
		var dr dealRow
		var p model.Product
		var brand, spec, imageURL sql.NullString
		var category int64

		dest := append(dr.dest(),
			&p.ID, &p.Code, &brand, &p.Name, &spec, &category, &p.SecondCategory,
			&imageURL, &p.Frequency, &p.CreatedAt, &p.UpdatedAt,
		)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("ダイジェスト候補行の読み取りに失敗しました: %w", err)
		}

		p.Brand = nullStringValue(brand)
		p.Spec = nullStringValue(spec)
		p.ImageURL = nullStringValue(imageURL)
		p.Category = model.Category(category)

		result = append(result, &model.DealWithProduct{Deal: dr.deal(), Product: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ダイジェスト候補の走査に失敗しました: %w", err)
	}
	return result, nil
}
