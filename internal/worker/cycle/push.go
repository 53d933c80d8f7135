package cycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/dealsync/internal/dispatch"
	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/repository"
)

// Targeter はディールの通知対象を列挙する。targeting.Serviceが満たす。
type Targeter interface {
	EligibleRecipients(ctx context.Context, d *model.Deal) ([]*model.Recipient, error)
}

// BatchNotifier は受信者へ順にディールを送る。dispatch.Dispatcherが満たす。
type BatchNotifier interface {
	NotifyBatch(ctx context.Context, recipients []*model.Recipient, deal *model.DealWithProduct) dispatch.BatchResult
}

// NewDealPusher は新着ディールを即時配信する。
type NewDealPusher interface {
	Push(ctx context.Context, deal *model.DealWithProduct) (dispatch.BatchResult, error)
}

// Pusher は新着ディールを通知対象の全受信者へ即時に送る。
// 配信済みの受信者は除外し、送信に成功した受信者を配信済みとして記録するため、
// 同じディールがお気に入り通知やダイジェストで重複して届くことはない。
type Pusher struct {
	targeter Targeter
	notifier BatchNotifier
	digests  repository.DigestRepository
	logger   *slog.Logger
}

var _ NewDealPusher = (*Pusher)(nil)

// NewPusher はPusherを生成する。
func NewPusher(targeter Targeter, notifier BatchNotifier, digests repository.DigestRepository, logger *slog.Logger) *Pusher {
	return &Pusher{targeter: targeter, notifier: notifier, digests: digests, logger: logger}
}

// Push はディールを通知対象の受信者へ送る。対象の列挙に失敗した場合のみエラーを返す。
func (p *Pusher) Push(ctx context.Context, deal *model.DealWithProduct) (dispatch.BatchResult, error) {
	eligible, err := p.targeter.EligibleRecipients(ctx, &deal.Deal)
	if err != nil {
		return dispatch.BatchResult{}, fmt.Errorf("通知対象の列挙に失敗しました: %w", err)
	}

	pending := make([]*model.Recipient, 0, len(eligible))
	for _, r := range eligible {
		sent, err := p.digests.IsSent(ctx, r.ID, deal.DealID)
		if err != nil {
			p.logger.Error("配信済みマーカーの確認に失敗しました",
				slog.Int64("recipient_id", r.ID),
				slog.Int64("deal_id", deal.DealID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !sent {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return dispatch.BatchResult{}, nil
	}

	result := p.notifier.NotifyBatch(ctx, pending, deal)
	for _, id := range result.Delivered {
		if err := p.digests.MarkSent(ctx, id, deal.DealID); err != nil {
			p.logger.Error("配信済みマーカーの記録に失敗しました",
				slog.Int64("recipient_id", id),
				slog.Int64("deal_id", deal.DealID),
				slog.String("error", err.Error()),
			)
		}
	}
	return result, nil
}
