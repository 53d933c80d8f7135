// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product は商品コード（UPC）で識別されるカタログ商品を表す。
// 初回観測時に作成され、以降は表示項目の更新と観測回数の加算のみ行う。削除はしない。
type Product struct {
	ID             string
	Code           string
	Brand          string
	Name           string
	Spec           string
	Category       Category
	SecondCategory int64
	ImageURL       string
	Frequency      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DisplayName はブランド名と商品名を結合した表示名を返す。
func (p *Product) DisplayName() string {
	switch {
	case p.Brand == "":
		return p.Name
	case p.Name == "":
		return p.Brand
	default:
		return p.Brand + " " + p.Name
	}
}

// Deal は店舗（ロケーション）における商品の期間限定価格を表す。
// DealID はカタログ側の識別子で、同期時の照合キーとなる。
type Deal struct {
	DealID        int64
	ProductID     string
	LocationID    int64
	Category      Category // 商品カテゴリの写し。ターゲティングで結合なしに評価する
	CurrentPrice  decimal.Decimal
	SourcePrice   decimal.NullDecimal
	DiscountPrice decimal.Decimal
	DiscountType  string
	StartTime     *time.Time
	EndTime       *time.Time // nil は終了日時なし
	IsActive      bool
	IsLatest      bool
	Likes         int
	Forwards      int
	Comments      int
	RawData       json.RawMessage
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
}

// HasEndedAt は終了日時が now 以前かを判定する。終了日時のないディールは終了しない。
func (d *Deal) HasEndedAt(now time.Time) bool {
	return d.EndTime != nil && !d.EndTime.After(now)
}

// DealWithProduct はメッセージ描画用にディールと商品を結合したモデル。
type DealWithProduct struct {
	Deal
	Product Product
}

// RawDeal はカタログから取得し、境界で検証済みのディールレコード。
// 型変換に失敗したレコードはここに到達しない。
type RawDeal struct {
	DealID         int64
	ProductCode    string
	Brand          string
	Name           string
	Spec           string
	Category       Category
	SecondCategory int64
	ImageURL       string
	CurrentPrice   decimal.Decimal
	SourcePrice    decimal.NullDecimal
	DiscountPrice  decimal.Decimal
	DiscountType   string
	StartTime      *time.Time
	EndTime        *time.Time
	IsLatest       bool
	Frequency      int
	Likes          int
	Forwards       int
	Comments       int
	Payload        json.RawMessage
}

// HasEndedAt は終了日時が now 以前かを判定する。
func (r *RawDeal) HasEndedAt(now time.Time) bool {
	return r.EndTime != nil && !r.EndTime.After(now)
}

// SyncResult は1ロケーション分の同期結果。
// 件数は処理に成功したレコードのみを数える。
type SyncResult struct {
	ProductsCreated int
	ProductsUpdated int
	DealsCreated    int
	DealsUpdated    int
	DealsExpiredNow int
	ExpiredDealIDs  []int64
	NewDeals        []*DealWithProduct
	Failed          int
}
