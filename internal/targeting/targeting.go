// Package targeting はディールの通知対象となる受信者を決定する。
// 判定は読み取りのみで副作用を持たない。
package targeting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/repository"
)

// Eligible は受信者がディールの通知対象かを判定する。
// 通知が有効で、ロケーションが一致し（未設定は対象外）、カテゴリ設定がディールのカテゴリを許可し、
// 受信者がディールを非表示にしていない場合に true を返す。
func Eligible(r *model.Recipient, d *model.Deal, hidden bool) bool {
	if r == nil || d == nil {
		return false
	}
	if !r.NotificationsEnabled || hidden {
		return false
	}
	if r.LocationID == nil || *r.LocationID != d.LocationID {
		return false
	}
	return r.Categories.Allows(d.Category)
}

// Service はストアを参照して通知対象の受信者を列挙する。
type Service struct {
	recipients  repository.RecipientRepository
	preferences repository.PreferenceRepository
	logger      *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	recipients repository.RecipientRepository,
	preferences repository.PreferenceRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		recipients:  recipients,
		preferences: preferences,
		logger:      logger,
	}
}

// EligibleRecipients はディールの通知対象となる受信者をID昇順で返す。
func (s *Service) EligibleRecipients(ctx context.Context, d *model.Deal) ([]*model.Recipient, error) {
	candidates, err := s.recipients.ListEnabledByLocation(ctx, d.LocationID)
	if err != nil {
		return nil, fmt.Errorf("ロケーションの受信者取得に失敗しました: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	hiddenIDs, err := s.preferences.HiddenRecipientIDs(ctx, d.DealID)
	if err != nil {
		return nil, fmt.Errorf("非表示設定の取得に失敗しました: %w", err)
	}
	hidden := make(map[int64]struct{}, len(hiddenIDs))
	for _, id := range hiddenIDs {
		hidden[id] = struct{}{}
	}

	var eligible []*model.Recipient
	for _, r := range candidates {
		_, isHidden := hidden[r.ID]
		if Eligible(r, d, isHidden) {
			eligible = append(eligible, r)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	s.logger.Debug("通知対象の受信者を決定しました",
		slog.Int64("deal_id", d.DealID),
		slog.Int("candidates", len(candidates)),
		slog.Int("eligible", len(eligible)),
	)
	return eligible, nil
}
