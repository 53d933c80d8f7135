package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dealsync/internal/digest"
	"github.com/hitoshi/dealsync/internal/middleware"
	"github.com/hitoshi/dealsync/internal/model"
)

// DigestContinuer は継続トークンからダイジェストの続きを送る。digest.Paginatorが満たす。
type DigestContinuer interface {
	Continue(ctx context.Context, recipientID int64, token string) (*digest.PageResult, error)
}

// DigestHandler はダイジェスト継続のHTTPハンドラー。
// チャットフロントエンドが「Show More」ボタンの押下を受けて呼び出す。
type DigestHandler struct {
	digests DigestContinuer
	logger  *slog.Logger
}

// NewDigestHandler はDigestHandlerを生成する。
func NewDigestHandler(digests DigestContinuer, logger *slog.Logger) *DigestHandler {
	return &DigestHandler{digests: digests, logger: logger}
}

type digestPageResponse struct {
	Candidates int    `json:"candidates"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	NextToken  string `json:"next_token,omitempty"`
}

// ContinueDigest はトークンが示す位置からダイジェストを1ページ送信する。
// POST /api/recipients/{id}/digest?token=digest:N
func (h *DigestHandler) ContinueDigest(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	recipientID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRecipientError(rawID))
		return
	}

	token := r.URL.Query().Get("token")
	page, err := h.digests.Continue(r.Context(), recipientID, token)
	if errors.Is(err, digest.ErrInvalidToken) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidTokenError(token))
		return
	}
	if err != nil {
		h.logger.Error("ダイジェストの継続送信に失敗しました",
			slog.Int64("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if page == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewRecipientNotFoundError(recipientID))
		return
	}

	resp := digestPageResponse{Candidates: page.Candidates, Sent: page.Sent, Failed: page.Failed}
	if page.NextOffset >= 0 {
		resp.NextToken = digest.EncodeToken(page.NextOffset)
	}
	writeJSON(w, http.StatusOK, resp)
}
