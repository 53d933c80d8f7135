package digest

import (
	"errors"
	"strconv"
	"strings"
)

// tokenPrefix は継続ボタンのデータに付与する接頭辞。
const tokenPrefix = "digest:"

// ErrInvalidToken は継続トークンを解釈できない場合のエラー。
var ErrInvalidToken = errors.New("invalid digest token")

// EncodeToken は次ページの開始位置を継続トークンに変換する。
// トークンはオフセットのみを持ち、サーバー側にセッション状態を持たない。
func EncodeToken(offset int) string {
	return tokenPrefix + strconv.Itoa(offset)
}

// ParseToken は継続トークンからオフセットを取り出す。負のオフセットは不正。
func ParseToken(token string) (int, error) {
	raw, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok || raw == "" {
		return 0, ErrInvalidToken
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0, ErrInvalidToken
	}
	return offset, nil
}
