// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/dealsync/internal/model"
)

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	// FindByCode は商品コードで商品を取得する。見つからない場合はnilを返す。
	FindByCode(ctx context.Context, code string) (*model.Product, error)

	// Create は商品を作成する。
	Create(ctx context.Context, product *model.Product) error

	// UpdateSighting は再観測された商品の表示項目を更新し、観測回数を1加算する。
	// 加算後の観測回数とupdated_atをproductに反映する。
	UpdateSighting(ctx context.Context, product *model.Product) error
}

// DealRepository はディールデータの永続化インターフェース。
// すべての操作は個別にアトミックで、複数エンティティにまたがるトランザクションは持たない。
type DealRepository interface {
	// FindByDealID は外部ディールIDでディールを取得する。見つからない場合はnilを返す。
	FindByDealID(ctx context.Context, dealID int64) (*model.Deal, error)

	// Create はディールを作成する。
	Create(ctx context.Context, deal *model.Deal) error

	// Update はディールの可変項目（価格、期間、フラグ、カウンタ、生データ）を上書き更新する。
	Update(ctx context.Context, deal *model.Deal) error

	// ListActive はis_active = trueの全ディールを返す。
	ListActive(ctx context.Context) ([]*model.Deal, error)

	// Deactivate はディールのis_activeをfalseに設定する。
	Deactivate(ctx context.Context, dealID int64) error

	// CountActiveByLocation は指定ロケーションのアクティブなディール数を返す。
	CountActiveByLocation(ctx context.Context, locationID int64) (int, error)
}

// RecipientRepository は受信者データの読み取りインターフェース。
type RecipientRepository interface {
	// FindByID は指定IDの受信者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Recipient, error)

	// ListEnabled は通知が有効な全受信者をID昇順で返す。
	ListEnabled(ctx context.Context) ([]*model.Recipient, error)

	// ListEnabledByLocation は指定ロケーションで通知が有効な受信者をID昇順で返す。
	ListEnabledByLocation(ctx context.Context, locationID int64) ([]*model.Recipient, error)

	// ListEnabledLocations は通知が有効な受信者に割り当てられたロケーションを重複なしで返す。
	ListEnabledLocations(ctx context.Context) ([]int64, error)
}

// PreferenceRepository は受信者ごとのディール設定の読み取りインターフェース。
type PreferenceRepository interface {
	// HiddenRecipientIDs は指定ディールを非表示にした受信者IDを返す。
	HiddenRecipientIDs(ctx context.Context, dealID int64) ([]int64, error)

	// FavoritedBy は指定ディールをお気に入りにした受信者IDをID昇順で返す。
	FavoritedBy(ctx context.Context, dealID int64) ([]int64, error)
}

// NotificationLogRepository は送信ログの追記インターフェース。
type NotificationLogRepository interface {
	// Append は送信結果を1件追記する。
	Append(ctx context.Context, record *model.NotificationRecord) error
}

// DigestRepository はダイジェスト配信済みマーカーと配信候補の永続化インターフェース。
type DigestRepository interface {
	// IsSent は受信者にディールを配信済みかを返す。
	IsSent(ctx context.Context, recipientID, dealID int64) (bool, error)

	// MarkSent は配信済みマーカーを冪等に記録する。
	MarkSent(ctx context.Context, recipientID, dealID int64) error

	// ListCandidates は受信者向けの未配信ディールを1ページ分返す。
	// 対象はアクティブかつ最新のディールで、ロケーション一致・カテゴリ設定・非表示を考慮し、
	// 配信済みマーカーのあるディールを除外する。first_seen_at降順、deal_id降順で並べる。
	ListCandidates(ctx context.Context, recipient *model.Recipient, limit, offset int) ([]*model.DealWithProduct, error)
}
