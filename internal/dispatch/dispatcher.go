// Package dispatch はディール通知の描画・送信・記録を行う。
//
// 送信失敗は呼び出し元に伝播させず、失敗の通知記録として残す。
// 連続送信の間隔はPacerで制御する。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dealsync/internal/metrics"
	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/repository"
)

// Channel は受信者へメッセージを届ける送信経路。
type Channel interface {
	Send(ctx context.Context, recipientID int64, msg Message) error
}

// BatchResult は一括送信の結果。
type BatchResult struct {
	Success   int
	Failed    int
	Delivered []int64 // 送信に成功した受信者ID（送信順）
}

// Dispatcher はディール通知を送信する。
type Dispatcher struct {
	channel     Channel
	logs        repository.NotificationLogRepository
	recipients  repository.RecipientRepository
	preferences repository.PreferenceRepository
	digests     repository.DigestRepository
	recorder    metrics.Recorder
	pacer       Pacer
	logger      *slog.Logger
	now         func() time.Time
}

// NewDispatcher はDispatcherを生成する。pacerは一括送信とお気に入り通知の送信間隔に使う。
func NewDispatcher(
	channel Channel,
	logs repository.NotificationLogRepository,
	recipients repository.RecipientRepository,
	preferences repository.PreferenceRepository,
	digests repository.DigestRepository,
	recorder metrics.Recorder,
	pacer Pacer,
	logger *slog.Logger,
) *Dispatcher {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Dispatcher{
		channel:     channel,
		logs:        logs,
		recipients:  recipients,
		preferences: preferences,
		digests:     digests,
		recorder:    recorder,
		pacer:       pacer,
		logger:      logger,
		now:         time.Now,
	}
}

// NotifyOne はディール通知を1件送信し、結果を通知ログに記録する。
// 送信に失敗しても例外は返さず、falseを返す。
func (d *Dispatcher) NotifyOne(ctx context.Context, recipientID int64, deal *model.DealWithProduct, kind model.NotificationKind) bool {
	msg := RenderDeal(deal, d.now())
	sendErr := d.channel.Send(ctx, recipientID, msg)
	if sendErr != nil {
		d.logger.Warn("ディール通知の送信に失敗しました",
			slog.Int64("recipient_id", recipientID),
			slog.Int64("deal_id", deal.DealID),
			slog.String("kind", string(kind)),
			slog.String("error", sendErr.Error()),
		)
	}
	d.record(ctx, recipientID, deal.DealID, kind, sendErr)

	return sendErr == nil
}

// record は送信結果を通知ログとメトリクスに記録する。
func (d *Dispatcher) record(ctx context.Context, recipientID, dealID int64, kind model.NotificationKind, sendErr error) {
	rec := &model.NotificationRecord{
		RecipientID: recipientID,
		DealID:      dealID,
		Kind:        kind,
		Successful:  sendErr == nil,
		SentAt:      d.now(),
	}
	if sendErr != nil {
		rec.ErrorMessage = sendErr.Error()
	}

	if err := d.logs.Append(ctx, rec); err != nil {
		d.logger.Error("通知ログの記録に失敗しました",
			slog.Int64("recipient_id", recipientID),
			slog.Int64("deal_id", dealID),
			slog.String("error", err.Error()),
		)
	}
	d.recorder.RecordNotification(string(kind), sendErr == nil)
}

// NotifyBatch は受信者へ順にディール通知を送信する。送信の間にはPacerの待機を挟む。
// コンテキストが終了した場合は残りの受信者を送信せずに返す。
func (d *Dispatcher) NotifyBatch(ctx context.Context, recipients []*model.Recipient, deal *model.DealWithProduct) BatchResult {
	var result BatchResult
	for i, r := range recipients {
		if i > 0 {
			if err := d.pacer.Wait(ctx); err != nil {
				break
			}
		}
		if d.NotifyOne(ctx, r.ID, deal, model.NotificationKindDeal) {
			result.Success++
			result.Delivered = append(result.Delivered, r.ID)
		} else {
			result.Failed++
		}
	}

	d.logger.Info("ディール通知の一括送信が完了しました",
		slog.Int64("deal_id", deal.DealID),
		slog.Int("recipients", len(recipients)),
		slog.Int("success", result.Success),
		slog.Int("failed", result.Failed),
	)
	return result
}

// NotifyFavoriteReappeared はディールをお気に入りにしている受信者へ再掲載を即時通知する。
// 通知が無効な受信者と配信済みの受信者は除外する。送信に成功した受信者は配信済みとして記録し、
// 同じディールがダイジェストで重複して届かないようにする。
func (d *Dispatcher) NotifyFavoriteReappeared(ctx context.Context, deal *model.DealWithProduct) (BatchResult, error) {
	var result BatchResult

	ids, err := d.preferences.FavoritedBy(ctx, deal.DealID)
	if err != nil {
		return result, fmt.Errorf("お気に入り登録者の取得に失敗しました: %w", err)
	}
	if len(ids) == 0 {
		return result, nil
	}

	sent := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ok, err := d.shouldNotifyFavorite(ctx, id, deal.DealID)
		if err != nil {
			d.logger.Error("お気に入り通知の対象確認に失敗しました",
				slog.Int64("recipient_id", id),
				slog.Int64("deal_id", deal.DealID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}

		if sent > 0 {
			if err := d.pacer.Wait(ctx); err != nil {
				break
			}
		}
		sent++

		if err := d.SendNotice(ctx, id, FavoriteBackNotice); err != nil {
			// ディール本体は送らないが、失敗した通知として記録する
			d.record(ctx, id, deal.DealID, model.NotificationKindFavorite, err)
			result.Failed++
			continue
		}
		if !d.NotifyOne(ctx, id, deal, model.NotificationKindFavorite) {
			result.Failed++
			continue
		}
		result.Success++
		result.Delivered = append(result.Delivered, id)

		if err := d.digests.MarkSent(ctx, id, deal.DealID); err != nil {
			d.logger.Error("配信済みマーカーの記録に失敗しました",
				slog.Int64("recipient_id", id),
				slog.Int64("deal_id", deal.DealID),
				slog.String("error", err.Error()),
			)
		}
	}

	d.logger.Info("お気に入りディールの再掲載を通知しました",
		slog.Int64("deal_id", deal.DealID),
		slog.Int("favorited_by", len(ids)),
		slog.Int("success", result.Success),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

func (d *Dispatcher) shouldNotifyFavorite(ctx context.Context, recipientID, dealID int64) (bool, error) {
	r, err := d.recipients.FindByID(ctx, recipientID)
	if err != nil {
		return false, err
	}
	if r == nil || !r.NotificationsEnabled {
		return false, nil
	}
	sent, err := d.digests.IsSent(ctx, recipientID, dealID)
	if err != nil {
		return false, err
	}
	return !sent, nil
}

// SendNotice はディールに紐づかない案内文を送信する。textはHTMLとして解釈される。
// 失敗はログに記録したうえで呼び出し元に返す。
func (d *Dispatcher) SendNotice(ctx context.Context, recipientID int64, text string, buttons ...Button) error {
	err := d.channel.Send(ctx, recipientID, Message{Text: text, Buttons: buttons})
	if err != nil {
		d.logger.Warn("案内メッセージの送信に失敗しました",
			slog.Int64("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
	}
	return err
}
