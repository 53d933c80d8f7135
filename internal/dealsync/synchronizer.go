// Package dealsync はカタログから取得したディールをストアに反映する同期処理を提供する。
//
// 新着の判定は is_latest フラグの false→true の変化で行う。
// 最新のまま再取得されたディールは新着として扱わない。
package dealsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/repository"
)

// Synchronizer はカタログのレコードを商品・ディールとして永続化する。
// レコード単位でコミットし、1件の失敗はバッチ全体を止めない。
type Synchronizer struct {
	products repository.ProductRepository
	deals    repository.DealRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewSynchronizer はSynchronizerを生成する。
func NewSynchronizer(
	products repository.ProductRepository,
	deals repository.DealRepository,
	logger *slog.Logger,
) *Synchronizer {
	return &Synchronizer{
		products: products,
		deals:    deals,
		logger:   logger,
		now:      time.Now,
	}
}

// recordOutcome は1レコード分の処理結果。
type recordOutcome struct {
	productCreated bool
	dealCreated    bool
	expired        bool
	newDeal        *model.DealWithProduct
}

// Synchronize は1ロケーション分のレコードを順に反映し、結果を集計する。
// ストアエラーはレコード単位でログに記録してFailedに数え、処理を継続する。
// エラーを返すのはコンテキストが終了した場合のみ。
func (s *Synchronizer) Synchronize(ctx context.Context, raws []model.RawDeal, locationID int64) (*model.SyncResult, error) {
	result := &model.SyncResult{}
	now := s.now()

	for i := range raws {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		raw := &raws[i]
		out, err := s.syncRecord(ctx, raw, locationID, now)
		if err != nil {
			result.Failed++
			s.logger.Error("ディールの同期に失敗しました",
				slog.Int64("deal_id", raw.DealID),
				slog.String("product_code", raw.ProductCode),
				slog.Int64("location_id", locationID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if out.productCreated {
			result.ProductsCreated++
		} else {
			result.ProductsUpdated++
		}
		if out.dealCreated {
			result.DealsCreated++
		} else {
			result.DealsUpdated++
		}
		if out.expired {
			result.DealsExpiredNow++
			result.ExpiredDealIDs = append(result.ExpiredDealIDs, raw.DealID)
		}
		if out.newDeal != nil {
			result.NewDeals = append(result.NewDeals, out.newDeal)
		}
	}

	s.logger.Info("ディールを同期しました",
		slog.Int64("location_id", locationID),
		slog.Int("records", len(raws)),
		slog.Int("products_created", result.ProductsCreated),
		slog.Int("deals_created", result.DealsCreated),
		slog.Int("deals_updated", result.DealsUpdated),
		slog.Int("new_deals", len(result.NewDeals)),
		slog.Int("expired_now", result.DealsExpiredNow),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Synchronizer) syncRecord(ctx context.Context, raw *model.RawDeal, locationID int64, now time.Time) (*recordOutcome, error) {
	product, created, err := s.resolveProduct(ctx, raw, now)
	if err != nil {
		return nil, err
	}

	existing, err := s.deals.FindByDealID(ctx, raw.DealID)
	if err != nil {
		return nil, err
	}

	expired := raw.HasEndedAt(now)
	out := &recordOutcome{productCreated: created, expired: expired}

	var deal *model.Deal
	var isNew bool
	if existing == nil {
		deal = &model.Deal{
			DealID:      raw.DealID,
			FirstSeenAt: now,
		}
		applyRaw(deal, raw, product.ID, locationID, now, expired)
		if err := s.deals.Create(ctx, deal); err != nil {
			return nil, err
		}
		out.dealCreated = true
		isNew = raw.IsLatest
	} else {
		wasLatest := existing.IsLatest
		deal = existing
		applyRaw(deal, raw, product.ID, locationID, now, expired)
		if err := s.deals.Update(ctx, deal); err != nil {
			return nil, err
		}
		isNew = raw.IsLatest && !wasLatest
	}

	if isNew {
		out.newDeal = &model.DealWithProduct{Deal: *deal, Product: *product}
	}
	return out, nil
}

// resolveProduct は商品コードで商品を解決する。
// 既存の商品は表示項目を更新して観測回数を加算し、未登録なら作成する。
func (s *Synchronizer) resolveProduct(ctx context.Context, raw *model.RawDeal, now time.Time) (*model.Product, bool, error) {
	product, err := s.products.FindByCode(ctx, raw.ProductCode)
	if err != nil {
		return nil, false, err
	}

	if product == nil {
		product = &model.Product{
			ID:             uuid.New().String(),
			Code:           raw.ProductCode,
			Brand:          raw.Brand,
			Name:           raw.Name,
			Spec:           raw.Spec,
			Category:       raw.Category,
			SecondCategory: raw.SecondCategory,
			ImageURL:       raw.ImageURL,
			Frequency:      1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.products.Create(ctx, product); err != nil {
			return nil, false, err
		}
		return product, true, nil
	}

	product.Name = raw.Name
	product.Spec = raw.Spec
	product.ImageURL = raw.ImageURL
	product.UpdatedAt = now
	if err := s.products.UpdateSighting(ctx, product); err != nil {
		return nil, false, err
	}
	return product, false, nil
}

// applyRaw はレコードの可変項目をディールに上書きする。
func applyRaw(d *model.Deal, raw *model.RawDeal, productID string, locationID int64, now time.Time, expired bool) {
	d.ProductID = productID
	d.LocationID = locationID
	d.Category = raw.Category
	d.CurrentPrice = raw.CurrentPrice
	d.SourcePrice = raw.SourcePrice
	d.DiscountPrice = raw.DiscountPrice
	d.DiscountType = raw.DiscountType
	d.StartTime = raw.StartTime
	d.EndTime = raw.EndTime
	d.IsActive = !expired
	d.IsLatest = raw.IsLatest
	d.Likes = raw.Likes
	d.Forwards = raw.Forwards
	d.Comments = raw.Comments
	d.RawData = raw.Payload
	d.LastUpdatedAt = now
}

// ExpireStale はアクティブなディールのうち終了日時を過ぎたものを無効化し、件数を返す。
// 取り込みとは独立して実行され、カタログが返さなくなったディールも期限切れにする。
// 個別の無効化失敗はログに記録して継続する。
func (s *Synchronizer) ExpireStale(ctx context.Context) (int, error) {
	active, err := s.deals.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("アクティブなディールの取得に失敗しました: %w", err)
	}

	now := s.now()
	expired := 0
	for _, d := range active {
		if !d.HasEndedAt(now) {
			continue
		}
		if err := s.deals.Deactivate(ctx, d.DealID); err != nil {
			s.logger.Error("ディールの無効化に失敗しました",
				slog.Int64("deal_id", d.DealID),
				slog.String("error", err.Error()),
			)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("期限切れのディールを無効化しました", slog.Int("count", expired))
	}
	return expired, nil
}
