package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/dealsync/internal/middleware"
	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/worker/cycle"
)

// CycleRunner はサイクルを実行する。cycle.Orchestratorが満たす。
type CycleRunner interface {
	RunCycle(ctx context.Context, trig cycle.Trigger) (*cycle.CycleReport, error)
}

// CycleHandler は手動トリガーのHTTPハンドラー。
type CycleHandler struct {
	runner  CycleRunner
	baseCtx context.Context
	logger  *slog.Logger
}

// NewCycleHandler はCycleHandlerを生成する。
// 非同期実行のサイクルはリクエストではなくbaseCtxに紐づき、baseCtxの終了で中断される。
func NewCycleHandler(runner CycleRunner, baseCtx context.Context, logger *slog.Logger) *CycleHandler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &CycleHandler{runner: runner, baseCtx: baseCtx, logger: logger}
}

type triggerResponse struct {
	Status   string `json:"status"`
	Trigger  string `json:"trigger"`
	Location *int64 `json:"location,omitempty"`
}

type cycleReportResponse struct {
	Trigger          string           `json:"trigger"`
	Locations        int              `json:"locations"`
	RecordsProcessed int              `json:"records_processed"`
	NewDeals         int              `json:"new_deals"`
	Expired          int              `json:"expired"`
	DigestsSent      int              `json:"digests_sent"`
	Pushed           int              `json:"pushed"`
	LocationErrors   map[int64]string `json:"location_errors"`
	DurationMs       int64            `json:"duration_ms"`
}

// TriggerCycle は手動サイクルを開始する。
// 既定では202を返してバックグラウンドで実行し、wait=trueの場合は完了を待ってレポートを返す。
// wait=trueで実行中のサイクルがある場合は待たずに409を返す。
// POST /api/cycles?location=N&wait=true
func (h *CycleHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	trig := cycle.Trigger{Kind: cycle.TriggerManual}
	if raw := r.URL.Query().Get("location"); raw != "" {
		loc, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || loc <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLocationError(raw))
			return
		}
		trig.Location = &loc
	}

	if r.URL.Query().Get("wait") == "true" {
		// 実行中のサイクルの後ろに並ばず、409で即座に応答する
		trig.NoWait = true
		report, err := h.runner.RunCycle(r.Context(), trig)
		if err != nil {
			if errors.Is(err, cycle.ErrCycleInProgress) {
				middleware.WriteErrorResponse(w, http.StatusConflict, model.NewCycleInProgressError())
				return
			}
			h.logger.Error("手動サイクルが失敗しました", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
		writeJSON(w, http.StatusOK, toCycleReportResponse(report))
		return
	}

	go func() {
		if _, err := h.runner.RunCycle(h.baseCtx, trig); err != nil {
			h.logger.Error("手動サイクルが失敗しました", slog.String("error", err.Error()))
		}
	}()

	writeJSON(w, http.StatusAccepted, triggerResponse{
		Status:   "accepted",
		Trigger:  string(trig.Kind),
		Location: trig.Location,
	})
}

func toCycleReportResponse(r *cycle.CycleReport) cycleReportResponse {
	errs := r.LocationErrors
	if errs == nil {
		errs = map[int64]string{}
	}
	return cycleReportResponse{
		Trigger:          string(r.Trigger.Kind),
		Locations:        r.Locations,
		RecordsProcessed: r.RecordsProcessed,
		NewDeals:         r.NewDeals,
		Expired:          r.Expired,
		DigestsSent:      r.DigestsSent,
		Pushed:           r.Pushed,
		LocationErrors:   errs,
		DurationMs:       r.Duration.Milliseconds(),
	}
}
