package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/dealsync/internal/model"
	"github.com/shopspring/decimal"
)

// timeLayouts はカタログが返す日時文字列として受け付ける書式。
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// flexInt は数値または数値文字列のどちらでも受け付ける整数。
type flexInt struct {
	value int64
	set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// 1.0 のような整数値の浮動小数点表記も許容する
		fl, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil || fl != float64(int64(fl)) {
			return fmt.Errorf("整数ではありません: %s", b)
		}
		n = int64(fl)
	}
	f.value, f.set = n, true
	return nil
}

// flexString は文字列または数値のどちらでも受け付ける文字列。
type flexString struct {
	value string
	set   bool
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f.value, f.set = strings.TrimSpace(s), true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("文字列でも数値でもありません: %s", b)
	}
	f.value, f.set = n.String(), true
	return nil
}

// wireGood はカタログのgoods要素のうち利用する項目。
type wireGood struct {
	ID              flexInt    `json:"id"`
	Brand           flexString `json:"brand"`
	Name            flexString `json:"name"`
	Spec            flexString `json:"spec"`
	UPCCode         flexString `json:"itm_upc_code"`
	CurPrice        flexString `json:"cur_price"`
	SourcePrice     flexString `json:"source_price"`
	DiscountPrice   flexString `json:"discount_price"`
	DiscountType    flexInt    `json:"discount_type"`
	GoodsType       flexInt    `json:"fk_goods_type"`
	GoodsSecondType flexInt    `json:"fk_goods_second_type"`
	GoodsImg        flexString `json:"goods_img"`
	CreateTime      flexString `json:"create_time"`
	EndTime         flexString `json:"end_time"`
	IsLatest        flexInt    `json:"is_latest"`
	Frequency       flexInt    `json:"frequency"`
	LikesCount      flexInt    `json:"likesCount"`
	ForwardsCount   flexInt    `json:"forwardsCount"`
	CommentsCount   flexInt    `json:"commentsCount"`
}

// ParseDeal はgoods要素1件を検証し、model.RawDealに変換する。
// 必須項目の欠落や型不一致がある場合はエラーを返し、レコードは同期処理に渡されない。
// 日時にタイムゾーンが含まれない場合はlocで解釈する。
func ParseDeal(raw json.RawMessage, loc *time.Location) (model.RawDeal, error) {
	var g wireGood
	if err := json.Unmarshal(raw, &g); err != nil {
		return model.RawDeal{}, fmt.Errorf("ディールレコードの解析に失敗しました: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	var errs []error
	require := func(ok bool, field string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s は必須です", field))
		}
	}
	require(g.ID.set && g.ID.value > 0, "id")
	require(g.UPCCode.set && g.UPCCode.value != "", "itm_upc_code")
	require(g.Name.set && g.Name.value != "", "name")
	require(g.GoodsType.set, "fk_goods_type")
	require(g.DiscountPrice.set, "discount_price")
	require(g.CreateTime.set && g.CreateTime.value != "", "create_time")

	rd := model.RawDeal{
		DealID:         g.ID.value,
		ProductCode:    g.UPCCode.value,
		Brand:          g.Brand.value,
		Name:           g.Name.value,
		Spec:           g.Spec.value,
		Category:       model.Category(g.GoodsType.value),
		SecondCategory: g.GoodsSecondType.value,
		ImageURL:       g.GoodsImg.value,
		IsLatest:       g.IsLatest.value == 1,
		Frequency:      int(g.Frequency.value),
		Likes:          int(g.LikesCount.value),
		Forwards:       int(g.ForwardsCount.value),
		Comments:       int(g.CommentsCount.value),
		Payload:        append(json.RawMessage(nil), raw...),
	}
	if g.DiscountType.set {
		rd.DiscountType = strconv.FormatInt(g.DiscountType.value, 10)
	}

	var err error
	if rd.CurrentPrice, err = parsePrice(g.CurPrice.value); err != nil {
		errs = append(errs, fmt.Errorf("cur_price: %w", err))
	}
	if rd.DiscountPrice, err = parsePrice(g.DiscountPrice.value); err != nil {
		errs = append(errs, fmt.Errorf("discount_price: %w", err))
	}
	if g.SourcePrice.value != "" {
		src, err := decimal.NewFromString(g.SourcePrice.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("source_price: %w", err))
		} else {
			rd.SourcePrice = decimal.NewNullDecimal(src)
		}
	}

	if g.CreateTime.value != "" {
		if rd.StartTime, err = parseTime(g.CreateTime.value, loc); err != nil {
			errs = append(errs, fmt.Errorf("create_time: %w", err))
		}
	}
	if g.EndTime.value != "" {
		if rd.EndTime, err = parseTime(g.EndTime.value, loc); err != nil {
			errs = append(errs, fmt.Errorf("end_time: %w", err))
		}
	}

	if len(errs) > 0 {
		return model.RawDeal{}, fmt.Errorf("ディールレコード %d が不正です: %w", g.ID.value, errors.Join(errs...))
	}
	return rd, nil
}

// parsePrice は価格文字列を解析する。空文字列はゼロとして扱う。
func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseTime(s string, loc *time.Location) (*time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("日時の書式が不正です: %q", s)
}
