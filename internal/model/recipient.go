package model

import "time"

// Recipient は通知の受信者を表す。IDはチャネル側のチャットIDと一致する。
// 受信者と設定はフロントエンドが作成・更新し、本サービスは読み取りのみ行う。
type Recipient struct {
	ID                   int64
	Username             string
	LocationID           *int64 // 未設定の間はnil
	NotificationsEnabled bool
	Categories           CategoryFilter
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DealPreference は受信者ごとのディールに対する状態（お気に入り/非表示/カート）。
type DealPreference struct {
	RecipientID int64
	DealID      int64
	IsFavorite  bool
	IsHidden    bool
	IsInCart    bool
	UpdatedAt   time.Time
}

// NotificationKind は通知の経路を表す。
type NotificationKind string

const (
	// NotificationKindDeal は個別ディール通知。
	NotificationKindDeal NotificationKind = "deal"
	// NotificationKindFavorite はお気に入り再掲載の即時通知。
	NotificationKindFavorite NotificationKind = "favorite"
	// NotificationKindDigest はダイジェスト配信。
	NotificationKindDigest NotificationKind = "digest"
)

// NotificationRecord は送信結果の追記専用ログ。
type NotificationRecord struct {
	ID           string
	RecipientID  int64
	DealID       int64
	Kind         NotificationKind
	Successful   bool
	ErrorMessage string
	SentAt       time.Time
}
