package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dealsync/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

// FindByCode は商品コードで商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByCode(ctx context.Context, code string) (*model.Product, error) {
	p := &model.Product{}
	var brand, spec, imageURL sql.NullString
	var category int64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, code, brand, name, spec, category, second_category, image_url,
		        frequency, created_at, updated_at
		 FROM products WHERE code = $1`,
		code,
	).Scan(
		&p.ID, &p.Code, &brand, &p.Name, &spec, &category, &p.SecondCategory, &imageURL,
		&p.Frequency, &p.CreatedAt, &p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("商品の取得に失敗しました: %w", err)
	}

	p.Brand = nullStringValue(brand)
	p.Spec = nullStringValue(spec)
	p.ImageURL = nullStringValue(imageURL)
	p.Category = model.Category(category)

	return p, nil
}

// Create は商品を作成する。
func (r *PostgresProductRepo) Create(ctx context.Context, p *model.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, code, brand, name, spec, category, second_category, image_url,
		                       frequency, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Code, nullString(p.Brand), p.Name, nullString(p.Spec), int64(p.Category),
		p.SecondCategory, nullString(p.ImageURL), p.Frequency, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("商品の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateSighting は商品の表示項目を更新し、観測回数を1加算する。
func (r *PostgresProductRepo) UpdateSighting(ctx context.Context, p *model.Product) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE products
		 SET name = $2, spec = $3, image_url = $4, frequency = frequency + 1, updated_at = $5
		 WHERE id = $1
		 RETURNING frequency, updated_at`,
		p.ID, p.Name, nullString(p.Spec), nullString(p.ImageURL), p.UpdatedAt,
	).Scan(&p.Frequency, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("更新対象の商品が存在しません: %s", p.ID)
	}
	if err != nil {
		return fmt.Errorf("商品の更新に失敗しました: %w", err)
	}
	return nil
}

// nullStringValue はsql.NullStringを文字列に変換する。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullString は空文字列をNULLとして書き込むための値を返す。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
