package dispatch

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/dealsync/internal/model"
	"github.com/shopspring/decimal"
)

// Message はチャネルに送る1通のメッセージ。TextはHTML書式で、可変部分はエスケープ済み。
// ImageURLがある場合はTextを画像のキャプションとして送る。
type Message struct {
	Text     string
	ImageURL string
	Buttons  []Button
}

// Button はメッセージに付与するインラインボタン。Dataはボタン押下時にフロントエンドへ返る値。
type Button struct {
	Label string
	Data  string
}

// FavoriteBackNotice はお気に入りディールの再掲載時に先行して送る文面。
const FavoriteBackNotice = "🌟 Your favorite deal is back!"

var hundred = decimal.NewFromInt(100)

// RenderDeal はディール通知のメッセージを組み立てる。nowは残り日数の計算に使う。
func RenderDeal(d *model.DealWithProduct, now time.Time) Message {
	var b strings.Builder

	fmt.Fprintf(&b, "🏷️ <b>%s</b>\n\n", html.EscapeString(d.Product.DisplayName()))

	b.WriteString("💰 -" + formatPrice(savings(&d.Deal)))
	if pct, ok := discountPercent(&d.Deal); ok {
		fmt.Fprintf(&b, "  (-%s%%)", pct)
	}

	if d.SourcePrice.Valid && d.SourcePrice.Decimal.IsPositive() {
		b.WriteString("\n💵 Original: " + formatPrice(d.SourcePrice.Decimal))
	}
	if d.CurrentPrice.IsPositive() {
		b.WriteString("\n📉 Current: <b>" + formatPrice(d.CurrentPrice) + "</b>")
	}

	if d.EndTime != nil {
		date := d.EndTime.Format("02-01-2006")
		switch days := daysLeft(*d.EndTime, now); {
		case days > 0:
			fmt.Fprintf(&b, "\n⏰ %d days left (%s)", days, date)
		case days == 0:
			fmt.Fprintf(&b, "\n⏰ Ends today (%s)", date)
		}
	}

	id := strconv.FormatInt(d.DealID, 10)
	return Message{
		Text:     b.String(),
		ImageURL: d.Product.ImageURL,
		Buttons: []Button{
			{Label: "❤️ Favorite", Data: "favorite:" + id},
			{Label: "👁️ Hide", Data: "hide:" + id},
		},
	}
}

// savings は割引額を返す。割引額が未設定の場合は元値と現在価格の差を使う。
func savings(d *model.Deal) decimal.Decimal {
	if !d.DiscountPrice.IsZero() {
		return d.DiscountPrice
	}
	if d.SourcePrice.Valid && d.CurrentPrice.IsPositive() {
		if diff := d.SourcePrice.Decimal.Sub(d.CurrentPrice); diff.IsPositive() {
			return diff
		}
	}
	return decimal.Zero
}

// discountPercent は元値と現在価格がともにあり元値が正の場合に割引率を返す。
func discountPercent(d *model.Deal) (string, bool) {
	if !d.SourcePrice.Valid || !d.SourcePrice.Decimal.IsPositive() || d.CurrentPrice.IsZero() {
		return "", false
	}
	src := d.SourcePrice.Decimal
	pct := src.Sub(d.CurrentPrice).Div(src).Mul(hundred).Round(0)
	return pct.String(), true
}

// formatPrice は価格を $x.xx 形式にする。ゼロは N/A。
func formatPrice(p decimal.Decimal) string {
	if p.IsZero() {
		return "N/A"
	}
	return "$" + p.StringFixed(2)
}

// daysLeft は終了日時までの日数を切り上げで返す。
func daysLeft(end, now time.Time) int {
	diff := end.Sub(now)
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) > 0 {
		days++
	}
	return days
}
