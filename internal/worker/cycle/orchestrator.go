// Package cycle は同期・通知サイクルの実行と定期起動を提供する。
//
// 1サイクルはロケーションごとのカタログ取得と同期、お気に入りの即時通知
// （有効な場合は新着ディールの即時配信も）、期限切れの一括無効化、
// 受信者ごとのダイジェスト配信の順に逐次実行する。
// 同時に実行されるサイクルは常に1つまで。
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dealsync/internal/catalog"
	"github.com/hitoshi/dealsync/internal/digest"
	"github.com/hitoshi/dealsync/internal/dispatch"
	"github.com/hitoshi/dealsync/internal/metrics"
	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/repository"
)

// ErrCycleInProgress は定期実行またはNoWait指定の手動実行の時点で別のサイクルが実行中の場合に返す。
var ErrCycleInProgress = errors.New("cycle already in progress")

// CatalogFeed はロケーションのディールを取得する。catalog.Clientが満たす。
type CatalogFeed interface {
	FetchDeals(ctx context.Context, locationID int64) ([]model.RawDeal, error)
}

// Synchronizer はディールの同期と期限切れの無効化を行う。dealsync.Synchronizerが満たす。
type Synchronizer interface {
	Synchronize(ctx context.Context, raws []model.RawDeal, locationID int64) (*model.SyncResult, error)
	ExpireStale(ctx context.Context) (int, error)
}

// FavoriteNotifier はお気に入りディールの再掲載を通知する。dispatch.Dispatcherが満たす。
type FavoriteNotifier interface {
	NotifyFavoriteReappeared(ctx context.Context, deal *model.DealWithProduct) (dispatch.BatchResult, error)
}

// DigestSender は受信者にダイジェストを1ページ送信する。digest.Paginatorが満たす。
type DigestSender interface {
	SendPage(ctx context.Context, recipientID int64, offset int) (*digest.PageResult, error)
}

// TriggerKind はサイクルの起動元。
type TriggerKind string

const (
	// TriggerScheduled はcronによる定期実行。実行中のサイクルがあればスキップする。
	TriggerScheduled TriggerKind = "scheduled"
	// TriggerManual はAPIやCLIからの手動実行。NoWait指定がなければ実行中のサイクルの終了を待つ。
	TriggerManual TriggerKind = "manual"
)

// Trigger はサイクルの起動条件。Locationを指定すると対象ロケーションのみを取得・同期する。
// NoWaitを指定した手動実行は、実行中のサイクルがあれば待たずにErrCycleInProgressを返す。
type Trigger struct {
	Kind     TriggerKind
	Location *int64
	NoWait   bool
}

// CycleReport はサイクルの実行結果。
type CycleReport struct {
	Trigger          Trigger
	Locations        int
	RecordsProcessed int
	NewDeals         int
	Expired          int
	DigestsSent      int
	Pushed           int
	LocationErrors   map[int64]string
	Duration         time.Duration
}

// Config はOrchestratorの動作設定。
type Config struct {
	FetchTimeout   time.Duration
	RecipientPacer dispatch.Pacer // ダイジェスト配信の受信者間の待機
	Push           NewDealPusher  // nilの場合は新着ディールを即時配信せずダイジェストに任せる
}

// Orchestrator はサイクルを実行する。
type Orchestrator struct {
	recipients repository.RecipientRepository
	deals      repository.DealRepository
	feed       CatalogFeed
	syncer     Synchronizer
	favorites  FavoriteNotifier
	digests    DigestSender
	recorder   metrics.Recorder
	cfg        Config
	logger     *slog.Logger
	guard      chan struct{}
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(
	recipients repository.RecipientRepository,
	deals repository.DealRepository,
	feed CatalogFeed,
	syncer Synchronizer,
	favorites FavoriteNotifier,
	digests DigestSender,
	recorder metrics.Recorder,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.RecipientPacer == nil {
		cfg.RecipientPacer = dispatch.FixedPacer{Delay: 1500 * time.Millisecond}
	}
	return &Orchestrator{
		recipients: recipients,
		deals:      deals,
		feed:       feed,
		syncer:     syncer,
		favorites:  favorites,
		digests:    digests,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
		guard:      make(chan struct{}, 1),
	}
}

// RunCycle はサイクルを1回実行する。
// 定期実行は実行中のサイクルがあればErrCycleInProgressを返し、手動実行は終了を待つ。
// ロケーション単位のカタログ失敗はレポートに記録して継続し、
// 受信者・ロケーションの列挙に失敗した場合のみエラーを返す。
func (o *Orchestrator) RunCycle(ctx context.Context, trig Trigger) (*CycleReport, error) {
	if err := o.acquire(ctx, trig); err != nil {
		return nil, err
	}
	defer func() { <-o.guard }()

	start := time.Now()
	report := &CycleReport{Trigger: trig, LocationErrors: map[int64]string{}}

	attrs := []any{slog.String("trigger", string(trig.Kind))}
	if trig.Location != nil {
		attrs = append(attrs, slog.Int64("target_location", *trig.Location))
	}
	o.logger.Info("サイクルを開始します", attrs...)

	err := o.run(ctx, trig, report)
	report.Duration = time.Since(start)

	status := "ok"
	if err != nil {
		status = "failed"
		o.logger.Error("サイクルが失敗しました",
			slog.String("trigger", string(trig.Kind)),
			slog.String("error", err.Error()),
			slog.Duration("duration", report.Duration),
		)
	} else {
		o.logger.Info("サイクルが完了しました",
			slog.String("trigger", string(trig.Kind)),
			slog.Int("locations", report.Locations),
			slog.Int("records", report.RecordsProcessed),
			slog.Int("new_deals", report.NewDeals),
			slog.Int("expired", report.Expired),
			slog.Int("digests_sent", report.DigestsSent),
			slog.Int("pushed", report.Pushed),
			slog.Int("location_errors", len(report.LocationErrors)),
			slog.Duration("duration", report.Duration),
		)
	}
	o.recorder.RecordCycle(string(trig.Kind), status, report.Duration)

	return report, err
}

func (o *Orchestrator) acquire(ctx context.Context, trig Trigger) error {
	if trig.Kind == TriggerScheduled || trig.NoWait {
		select {
		case o.guard <- struct{}{}:
			return nil
		default:
			return ErrCycleInProgress
		}
	}
	select {
	case o.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, trig Trigger, report *CycleReport) error {
	locations, err := o.recipients.ListEnabledLocations(ctx)
	if err != nil {
		return fmt.Errorf("ロケーションの列挙に失敗しました: %w", err)
	}
	if trig.Location != nil {
		locations = filterLocation(locations, *trig.Location)
	}

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.syncLocation(ctx, trig, loc, report); err != nil {
			return err
		}
	}

	expired, err := o.syncer.ExpireStale(ctx)
	if err != nil {
		o.logger.Error("期限切れディールの無効化に失敗しました", slog.String("error", err.Error()))
	}
	report.Expired += expired
	o.recorder.RecordExpired(expired)

	return o.sendDigests(ctx, report)
}

// syncLocation は1ロケーション分の取得と同期を行う。
// カタログの失敗はレポートに記録し、エラーは返さない。
func (o *Orchestrator) syncLocation(ctx context.Context, trig Trigger, loc int64, report *CycleReport) error {
	if trig.Location != nil {
		count, err := o.deals.CountActiveByLocation(ctx, loc)
		if err != nil {
			report.LocationErrors[loc] = err.Error()
			o.logger.Error("アクティブなディール数の取得に失敗しました",
				slog.Int64("location_id", loc),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if count > 0 {
			o.logger.Info("アクティブなディールが存在するため取得をスキップします",
				slog.Int64("location_id", loc),
				slog.Int("active_deals", count),
			)
			return nil
		}
	}
	report.Locations++

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	start := time.Now()
	raws, err := o.feed.FetchDeals(fetchCtx, loc)
	cancel()
	o.recorder.RecordFetchLatency(time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.LocationErrors[loc] = err.Error()
		o.recorder.RecordFetchFailure(loc, failureReason(err))
		o.logger.Error("カタログの取得に失敗しました",
			slog.Int64("location_id", loc),
			slog.String("reason", failureReason(err)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	o.recorder.RecordFetchSuccess(loc, len(raws))

	res, err := o.syncer.Synchronize(ctx, raws, loc)
	if err != nil {
		return err
	}
	report.RecordsProcessed += len(raws)
	report.NewDeals += len(res.NewDeals)
	report.Expired += res.DealsExpiredNow
	o.recorder.RecordSync(res.DealsCreated, res.DealsUpdated, len(res.NewDeals), res.Failed)

	for _, d := range res.NewDeals {
		if _, err := o.favorites.NotifyFavoriteReappeared(ctx, d); err != nil {
			o.logger.Error("お気に入り通知に失敗しました",
				slog.Int64("deal_id", d.DealID),
				slog.String("error", err.Error()),
			)
		}
		if o.cfg.Push == nil {
			continue
		}
		res, err := o.cfg.Push.Push(ctx, d)
		if err != nil {
			o.logger.Error("新着ディールの即時配信に失敗しました",
				slog.Int64("deal_id", d.DealID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Pushed += res.Success
	}
	return nil
}

// sendDigests は通知が有効な全受信者にダイジェストの1ページ目を送信する。
// 対象ロケーション指定時も全受信者が対象で、受信者ごとの絞り込みは候補の抽出時に行われる。
func (o *Orchestrator) sendDigests(ctx context.Context, report *CycleReport) error {
	recipients, err := o.recipients.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("受信者の列挙に失敗しました: %w", err)
	}

	for i, r := range recipients {
		if i > 0 {
			if err := o.cfg.RecipientPacer.Wait(ctx); err != nil {
				return err
			}
		}
		page, err := o.digests.SendPage(ctx, r.ID, 0)
		if err != nil {
			o.logger.Error("ダイジェストの送信に失敗しました",
				slog.Int64("recipient_id", r.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if page != nil {
			report.DigestsSent += page.Sent
		}
	}
	return nil
}

func filterLocation(locations []int64, target int64) []int64 {
	for _, l := range locations {
		if l == target {
			return []int64{target}
		}
	}
	return nil
}

// failureReason はメトリクスのラベルに使う失敗種別を返す。
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var cerr *catalog.Error
	if errors.As(err, &cerr) {
		return string(cerr.Kind)
	}
	return "other"
}
