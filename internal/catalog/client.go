// Package catalog は外部ディールカタログAPIのクライアントを提供する。
// 応答は境界で厳密に検証され、不正なレコードは個別に除外される。
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/dealsync/internal/model"
	"github.com/hitoshi/dealsync/internal/security"
)

const (
	// listPath はディール一覧APIのパス。
	listPath = "/api/deal/list"
	// defaultMaxResponseSize は応答ボディの上限（10MiB）。
	defaultMaxResponseSize int64 = 10 << 20
)

// Config はカタログクライアントの設定。
type Config struct {
	BaseURL         string
	Cookie          string
	PageSize        int
	MaxPages        int
	MaxResponseSize int64
	Location        *time.Location // タイムゾーンなしの日時を解釈する地域
}

// Page はカタログAPIの1ページ分の応答。
type Page struct {
	Goods       []json.RawMessage
	DiscountCnt int
	TotalPage   int
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type pageData struct {
	Goods       []json.RawMessage `json:"goods"`
	DiscountCnt int               `json:"discountCnt"`
	TotalPage   int               `json:"totalPage"`
	Process     int               `json:"process"`
}

// Client はカタログAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
	sanitizer  *security.TextSanitizer
	guard      *security.URLGuard
}

// NewClient はClientを生成する。httpClientのタイムアウトが1回の呼び出しの上限となる。
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaultMaxResponseSize
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		cfg:        cfg,
		sanitizer:  security.NewTextSanitizer(),
		guard:      security.NewURLGuard(),
	}
}

// FetchPage は指定ロケーションのディール一覧を1ページ取得する。
// HTTPステータスが200以外、codeが200以外、またはdataが文字列の場合は*Errorを返す。
func (c *Client) FetchPage(ctx context.Context, locationID int64, page, pageSize int) (*Page, error) {
	reqURL, err := url.Parse(c.cfg.BaseURL + listPath)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("storeId", strconv.FormatInt(locationID, 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dealsync/1.0")
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrorKindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: ErrorKindStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize+1))
	if err != nil {
		return nil, &Error{Kind: ErrorKindTransport, Message: "レスポンスボディの読み取りに失敗しました", Err: err}
	}
	if int64(len(body)) > c.cfg.MaxResponseSize {
		return nil, &Error{Kind: ErrorKindDecode, Message: fmt.Sprintf("レスポンスが上限 %d バイトを超えています", c.cfg.MaxResponseSize)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Kind: ErrorKindDecode, Err: err}
	}
	if env.Code != http.StatusOK {
		return nil, &Error{Kind: ErrorKindAPI, StatusCode: env.Code, Message: env.Message}
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, &Error{Kind: ErrorKindAPI, Message: "dataが空です"}
	}
	if data[0] == '"' {
		var msg string
		_ = json.Unmarshal(data, &msg)
		if msg == "" {
			msg = env.Message
		}
		return nil, &Error{Kind: ErrorKindAPI, StatusCode: env.Code, Message: msg}
	}

	var pd pageData
	if err := json.Unmarshal(data, &pd); err != nil {
		return nil, &Error{Kind: ErrorKindDecode, Err: err}
	}

	return &Page{Goods: pd.Goods, DiscountCnt: pd.DiscountCnt, TotalPage: pd.TotalPage}, nil
}

// FetchDeals は指定ロケーションのディールを全ページ取得し、検証済みのレコードを返す。
// ページ数はtotalPageと設定の上限の小さい方まで。検証に失敗したレコードはログに記録して除外する。
func (c *Client) FetchDeals(ctx context.Context, locationID int64) ([]model.RawDeal, error) {
	var deals []model.RawDeal
	rejected := 0

	for page := 1; page <= c.cfg.MaxPages; page++ {
		p, err := c.FetchPage(ctx, locationID, page, c.cfg.PageSize)
		if err != nil {
			return nil, err
		}

		for _, raw := range p.Goods {
			rd, err := ParseDeal(raw, c.cfg.Location)
			if err != nil {
				rejected++
				c.logger.Warn("不正なディールレコードを除外しました",
					slog.Int64("location_id", locationID),
					slog.String("error", err.Error()),
				)
				continue
			}
			deals = append(deals, c.clean(rd, locationID))
		}

		if len(p.Goods) == 0 || page >= p.TotalPage {
			break
		}
	}

	c.logger.Info("カタログからディールを取得しました",
		slog.Int64("location_id", locationID),
		slog.Int("accepted", len(deals)),
		slog.Int("rejected", rejected),
	)
	return deals, nil
}

// clean は表示用の文字列からマークアップを除去し、画像URLを検証する。
// 画像URLが不正な場合は画像なしとして扱う。
func (c *Client) clean(rd model.RawDeal, locationID int64) model.RawDeal {
	rd.Brand = c.sanitizer.Clean(rd.Brand)
	rd.Name = c.sanitizer.Clean(rd.Name)
	rd.Spec = c.sanitizer.Clean(rd.Spec)

	img, err := c.guard.NormalizeImageURL(rd.ImageURL)
	if err != nil {
		c.logger.Debug("不正な画像URLを破棄しました",
			slog.Int64("location_id", locationID),
			slog.Int64("deal_id", rd.DealID),
			slog.String("error", err.Error()),
		)
		img = ""
	}
	rd.ImageURL = img
	return rd
}
