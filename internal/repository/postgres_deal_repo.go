package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dealsync/internal/model"
)

// dealColumns はdealsテーブルのSELECT対象カラム。scanDealの引数順と一致させる。
const dealColumns = `d.deal_id, d.product_id, d.location_id, d.category, d.current_price,
	d.source_price, d.discount_price, d.discount_type, d.start_time, d.end_time,
	d.is_active, d.is_latest, d.likes_count, d.forwards_count, d.comments_count,
	d.raw_data, d.first_seen_at, d.last_updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresDealRepo はPostgreSQLを使用したディールリポジトリ。
type PostgresDealRepo struct {
	db *sql.DB
}

// NewPostgresDealRepo はPostgresDealRepoを生成する。
func NewPostgresDealRepo(db *sql.DB) *PostgresDealRepo {
	return &PostgresDealRepo{db: db}
}

// FindByDealID は外部ディールIDでディールを取得する。見つからない場合はnilを返す。
func (r *PostgresDealRepo) FindByDealID(ctx context.Context, dealID int64) (*model.Deal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals d WHERE d.deal_id = $1`,
		dealID,
	)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ディールの取得に失敗しました: %w", err)
	}
	return d, nil
}

// Create はディールを作成する。
func (r *PostgresDealRepo) Create(ctx context.Context, d *model.Deal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deals (deal_id, product_id, location_id, category, current_price,
		                    source_price, discount_price, discount_type, start_time, end_time,
		                    is_active, is_latest, likes_count, forwards_count, comments_count,
		                    raw_data, first_seen_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		d.DealID, d.ProductID, d.LocationID, int64(d.Category), d.CurrentPrice,
		d.SourcePrice, d.DiscountPrice, nullString(d.DiscountType), d.StartTime, d.EndTime,
		d.IsActive, d.IsLatest, d.Likes, d.Forwards, d.Comments,
		jsonValue(d.RawData), d.FirstSeenAt, d.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ディールの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はディールの可変項目を上書き更新する。first_seen_atは変更しない。
func (r *PostgresDealRepo) Update(ctx context.Context, d *model.Deal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE deals
		 SET product_id = $2, location_id = $3, category = $4, current_price = $5,
		     source_price = $6, discount_price = $7, discount_type = $8, start_time = $9,
		     end_time = $10, is_active = $11, is_latest = $12, likes_count = $13,
		     forwards_count = $14, comments_count = $15, raw_data = $16, last_updated_at = $17
		 WHERE deal_id = $1`,
		d.DealID, d.ProductID, d.LocationID, int64(d.Category), d.CurrentPrice,
		d.SourcePrice, d.DiscountPrice, nullString(d.DiscountType), d.StartTime,
		d.EndTime, d.IsActive, d.IsLatest, d.Likes,
		d.Forwards, d.Comments, jsonValue(d.RawData), d.LastUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ディールの更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("更新対象のディールが存在しません: %d", d.DealID)
	}
	return nil
}

// ListActive はis_active = trueの全ディールを返す。
func (r *PostgresDealRepo) ListActive(ctx context.Context) ([]*model.Deal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+dealColumns+` FROM deals d WHERE d.is_active = true ORDER BY d.deal_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブなディールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var deals []*model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("ディール行の読み取りに失敗しました: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ディール一覧の走査に失敗しました: %w", err)
	}
	return deals, nil
}

// Deactivate はディールのis_activeをfalseに設定する。
func (r *PostgresDealRepo) Deactivate(ctx context.Context, dealID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deals SET is_active = false, last_updated_at = now() WHERE deal_id = $1`,
		dealID,
	)
	if err != nil {
		return fmt.Errorf("ディールの無効化に失敗しました: %w", err)
	}
	return nil
}

// CountActiveByLocation は指定ロケーションのアクティブなディール数を返す。
func (r *PostgresDealRepo) CountActiveByLocation(ctx context.Context, locationID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deals WHERE location_id = $1 AND is_active = true`,
		locationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("アクティブなディール数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// dealRow はdealColumnsの読み取り先をまとめたもの。
// 他テーブルとの結合クエリでも同じ順序で読み取れるよう、宛先スライスを返す。
type dealRow struct {
	d            model.Deal
	category     int64
	discountType sql.NullString
	startTime    sql.NullTime
	endTime      sql.NullTime
	rawData      []byte
}

func (r *dealRow) dest() []any {
	return []any{
		&r.d.DealID, &r.d.ProductID, &r.d.LocationID, &r.category, &r.d.CurrentPrice,
		&r.d.SourcePrice, &r.d.DiscountPrice, &r.discountType, &r.startTime, &r.endTime,
		&r.d.IsActive, &r.d.IsLatest, &r.d.Likes, &r.d.Forwards, &r.d.Comments,
		&r.rawData, &r.d.FirstSeenAt, &r.d.LastUpdatedAt,
	}
}

func (r *dealRow) deal() model.Deal {
	d := r.d
	d.Category = model.Category(r.category)
	d.DiscountType = nullStringValue(r.discountType)
	if r.startTime.Valid {
		t := r.startTime.Time
		d.StartTime = &t
	}
	if r.endTime.Valid {
		t := r.endTime.Time
		d.EndTime = &t
	}
	if len(r.rawData) > 0 {
		d.RawData = r.rawData
	}
	return d
}

// scanDeal はdealColumnsの順で1行を読み取る。
func scanDeal(s rowScanner) (*model.Deal, error) {
	var row dealRow
	if err := s.Scan(row.dest()...); err != nil {
		return nil, err
	}
	d := row.deal()
	return &d, nil
}

// jsonValue はjsonbカラムへの書き込み値を返す。空の場合はNULL。
func jsonValue(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
