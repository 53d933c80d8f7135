// Package digest は受信者ごとの未配信ディールをページ単位で送るダイジェスト配信を提供する。
//
// 送信済みのディールは配信済みマーカーで除外されるため、同じディールが二度届くことはない。
// 継続はオフセットを埋め込んだトークンで行い、サーバー側にページ状態を持たない。
package digest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/dealsync/internal/dispatch"
	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/repository"
	"github.com/hitoshi/dealsync/internal/targeting"
)

const (
	// DefaultPageSize は1ページあたりのディール数。
	DefaultPageSize = 10

	endOfDigestText = "That's all the new deals for now!"
	showMoreLabel   = "👇 Show More Deals"
)

// Notifier はディール通知と案内文の送信を行う。dispatch.Dispatcherが満たす。
type Notifier interface {
	NotifyOne(ctx context.Context, recipientID int64, deal *model.DealWithProduct, kind model.NotificationKind) bool
	SendNotice(ctx context.Context, recipientID int64, text string, buttons ...dispatch.Button) error
}

// PageResult は1ページ分の送信結果。
type PageResult struct {
	Candidates int
	Sent       int
	Failed     int
	NextOffset int // 続きがない、または継続メッセージが届かなかった場合は -1
}

// Paginator はダイジェストを1ページずつ送信する。
type Paginator struct {
	recipients repository.RecipientRepository
	digests    repository.DigestRepository
	notifier   Notifier
	pacer      dispatch.Pacer
	pageSize   int
	logger     *slog.Logger
}

// NewPaginator はPaginatorを生成する。pacerはページ内の送信間隔に使う。
func NewPaginator(
	recipients repository.RecipientRepository,
	digests repository.DigestRepository,
	notifier Notifier,
	pacer dispatch.Pacer,
	pageSize int,
	logger *slog.Logger,
) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{
		recipients: recipients,
		digests:    digests,
		notifier:   notifier,
		pacer:      pacer,
		pageSize:   pageSize,
		logger:     logger,
	}
}

// SendPage はoffsetから1ページ分のダイジェストを送信する。
// 受信者が存在しない、または通知が無効の場合は何もしない（nil, nil）。
//
// 送信に成功したディールは配信済みとなり次回以降の候補から外れるため、
// 次ページのオフセットを offset+pageSize とすると未送信のディールを飛ばしうる。
// 継続トークンはこの挙動を保ったまま offset+pageSize を埋め込む。
func (p *Paginator) SendPage(ctx context.Context, recipientID int64, offset int) (*PageResult, error) {
	if offset < 0 {
		return nil, ErrInvalidToken
	}

	r, err := p.recipients.FindByID(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("受信者の取得に失敗しました: %w", err)
	}
	if r == nil || !r.NotificationsEnabled {
		return nil, nil
	}

	deals, err := p.digests.ListCandidates(ctx, r, p.pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("ダイジェスト候補の取得に失敗しました: %w", err)
	}

	result := &PageResult{Candidates: len(deals), NextOffset: -1}
	if len(deals) == 0 {
		if offset > 0 {
			if err := p.notifier.SendNotice(ctx, recipientID, endOfDigestText); err != nil {
				p.logger.Warn("終端メッセージの送信に失敗しました",
					slog.Int64("recipient_id", recipientID),
					slog.String("error", err.Error()),
				)
			}
		}
		return result, nil
	}

	if offset == 0 {
		if err := p.notifier.SendNotice(ctx, recipientID, header(len(deals), p.pageSize)); err != nil {
			return nil, fmt.Errorf("ダイジェストの見出し送信に失敗しました: %w", err)
		}
	}

	for i, d := range deals {
		if i > 0 {
			if err := p.pacer.Wait(ctx); err != nil {
				return result, err
			}
		}
		// 候補取得と同じ条件で送信直前に再確認する
		if !targeting.Eligible(r, &d.Deal, false) {
			continue
		}
		if !p.notifier.NotifyOne(ctx, recipientID, d, model.NotificationKindDigest) {
			result.Failed++
			continue
		}
		result.Sent++
		if err := p.digests.MarkSent(ctx, recipientID, d.DealID); err != nil {
			p.logger.Error("配信済みマーカーの記録に失敗しました",
				slog.Int64("recipient_id", recipientID),
				slog.Int64("deal_id", d.DealID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(deals) == p.pageSize {
		next := offset + p.pageSize
		more, err := p.digests.ListCandidates(ctx, r, 1, next)
		if err != nil {
			return result, fmt.Errorf("続きの確認に失敗しました: %w", err)
		}
		if len(more) > 0 {
			text := fmt.Sprintf("Showing %d-%d. Want to see more?", offset+1, offset+len(deals))
			err := p.notifier.SendNotice(ctx, recipientID, text, dispatch.Button{Label: showMoreLabel, Data: EncodeToken(next)})
			if err != nil {
				// 受信者に届いていないトークンは返さない
				p.logger.Warn("継続メッセージの送信に失敗しました",
					slog.Int64("recipient_id", recipientID),
					slog.String("error", err.Error()),
				)
			} else {
				result.NextOffset = next
			}
		}
	}

	p.logger.Info("ダイジェストを送信しました",
		slog.Int64("recipient_id", recipientID),
		slog.Int("offset", offset),
		slog.Int("candidates", result.Candidates),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed),
		slog.Int("next_offset", result.NextOffset),
	)
	return result, nil
}

// Continue は継続トークンを解釈し、続きのページを送信する。
func (p *Paginator) Continue(ctx context.Context, recipientID int64, token string) (*PageResult, error) {
	offset, err := ParseToken(token)
	if err != nil {
		return nil, err
	}
	return p.SendPage(ctx, recipientID, offset)
}

func header(count, pageSize int) string {
	n := fmt.Sprint(count)
	if count >= pageSize {
		n = "many"
	}
	return fmt.Sprintf("📅 <b>Daily Digest</b>\nFound %s new deals for you!", n)
}
