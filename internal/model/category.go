package model

import (
	"fmt"
	"sort"
)

// Category はカタログ上の商品カテゴリコード（fk_goods_type）を表す。
type Category int64

// 既知のカテゴリコード。
const (
	CategoryFood     Category = 4
	CategoryClothing Category = 5
	CategoryNonFood  Category = 6
)

// String はカテゴリの表示名を返す。未知のコードは数値をそのまま返す。
func (c Category) String() string {
	switch c {
	case CategoryFood:
		return "Food"
	case CategoryClothing:
		return "Clothing"
	case CategoryNonFood:
		return "Non-Food"
	default:
		return fmt.Sprintf("category-%d", int64(c))
	}
}

// CategoryFilterMode はカテゴリ設定の保存状態を表す。
type CategoryFilterMode string

const (
	// CategoryFilterAll は全カテゴリを受け取る状態。
	CategoryFilterAll CategoryFilterMode = "all"
	// CategoryFilterSome は指定カテゴリのみ受け取る状態。
	CategoryFilterSome CategoryFilterMode = "some"
	// CategoryFilterNone はどのカテゴリも受け取らない状態（「すべて解除」）。
	CategoryFilterNone CategoryFilterMode = "none"
)

// CategoryFilter は受信者ごとのカテゴリ設定。
// 「すべて選択」と「すべて解除」を区別して保存できるよう、
// 空集合とは別に all / none の状態を持つ。ゼロ値は all として扱う。
type CategoryFilter struct {
	mode CategoryFilterMode
	ids  []Category
}

// AllCategories は全カテゴリを許可するフィルタを返す。
func AllCategories() CategoryFilter {
	return CategoryFilter{mode: CategoryFilterAll}
}

// NoCategories はどのカテゴリも許可しないフィルタを返す。
func NoCategories() CategoryFilter {
	return CategoryFilter{mode: CategoryFilterNone}
}

// OnlyCategories は指定カテゴリのみ許可するフィルタを返す。
// 空の指定は「フィルタなし」と同義のため AllCategories に正規化する。
func OnlyCategories(ids ...Category) CategoryFilter {
	if len(ids) == 0 {
		return AllCategories()
	}
	seen := make(map[Category]bool, len(ids))
	uniq := make([]Category, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	return CategoryFilter{mode: CategoryFilterSome, ids: uniq}
}

// ParseCategoryFilter は保存された状態文字列とカテゴリ一覧からフィルタを復元する。
func ParseCategoryFilter(mode string, ids []int64) (CategoryFilter, error) {
	switch CategoryFilterMode(mode) {
	case CategoryFilterAll, "":
		return AllCategories(), nil
	case CategoryFilterNone:
		return NoCategories(), nil
	case CategoryFilterSome:
		cats := make([]Category, len(ids))
		for i, id := range ids {
			cats[i] = Category(id)
		}
		return OnlyCategories(cats...), nil
	default:
		return CategoryFilter{}, fmt.Errorf("不明なカテゴリ設定です: %q", mode)
	}
}

// Mode は保存用の状態を返す。
func (f CategoryFilter) Mode() CategoryFilterMode {
	if f.mode == "" {
		return CategoryFilterAll
	}
	return f.mode
}

// IDs は some 状態のカテゴリ一覧を返す。それ以外の状態では nil。
func (f CategoryFilter) IDs() []Category {
	if f.Mode() != CategoryFilterSome {
		return nil
	}
	out := make([]Category, len(f.ids))
	copy(out, f.ids)
	return out
}

// Int64IDs は永続化用にカテゴリ一覧を int64 スライスで返す。
func (f CategoryFilter) Int64IDs() []int64 {
	ids := f.IDs()
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// Allows はカテゴリがフィルタを通過するかを判定する。
func (f CategoryFilter) Allows(c Category) bool {
	switch f.Mode() {
	case CategoryFilterNone:
		return false
	case CategoryFilterSome:
		for _, id := range f.ids {
			if id == c {
				return true
			}
		}
		return false
	default:
		return true
	}
}
