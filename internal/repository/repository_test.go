package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dealsync/internal/database"
	"github.com/hitoshi/dealsync/internal/model"
	"github.com/shopspring/decimal"
)

// 各PostgreSQL実装がインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ ProductRepository = (*PostgresProductRepo)(nil)
	var _ DealRepository = (*PostgresDealRepo)(nil)
	var _ RecipientRepository = (*PostgresRecipientRepo)(nil)
	var _ PreferenceRepository = (*PostgresPreferenceRepo)(nil)
	var _ NotificationLogRepository = (*PostgresNotificationLogRepo)(nil)
	var _ DigestRepository = (*PostgresDigestRepo)(nil)
}

func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("空文字列はNULLとして扱われるべき")
	}
	if ns := nullString("abc"); !ns.Valid || ns.String != "abc" {
		t.Errorf("nullString(abc) = %+v", ns)
	}
	if got := nullStringValue(sql.NullString{}); got != "" {
		t.Errorf("NULLの変換結果 = %q, want empty", got)
	}
}

func TestJSONValue(t *testing.T) {
	if v := jsonValue(nil); v != nil {
		t.Errorf("空のJSONはNULLになるべき: %v", v)
	}
	if v := jsonValue([]byte(`{"a":1}`)); v != `{"a":1}` {
		t.Errorf("jsonValue = %v", v)
	}
}

func TestDigestRepo_ListCandidates_SkipsUnlocatedOrNone(t *testing.T) {
	// DBに到達しないケースのためnilのDBで検証できる
	repo := NewPostgresDigestRepo(nil)
	loc := int64(7)

	got, err := repo.ListCandidates(context.Background(), &model.Recipient{ID: 1}, 10, 0)
	if err != nil || got != nil {
		t.Errorf("ロケーション未設定: got %v, err %v", got, err)
	}

	got, err = repo.ListCandidates(context.Background(),
		&model.Recipient{ID: 1, LocationID: &loc, Categories: model.NoCategories()}, 10, 0)
	if err != nil || got != nil {
		t.Errorf("カテゴリnone: got %v, err %v", got, err)
	}
}

// openIntegrationDB はTEST_DATABASE_URLが設定されている場合のみ接続する。
func openIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	db, err := database.Open(url)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := database.RunMigrations(url); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	_, err = db.Exec(`TRUNCATE digest_sent, notification_log, deal_preferences, recipients, deals, products CASCADE`)
	if err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRepositories_Integration(t *testing.T) {
	db := openIntegrationDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	products := NewPostgresProductRepo(db)
	deals := NewPostgresDealRepo(db)
	recipients := NewPostgresRecipientRepo(db)
	prefs := NewPostgresPreferenceRepo(db)
	logs := NewPostgresNotificationLogRepo(db)
	digests := NewPostgresDigestRepo(db)

	p := &model.Product{
		ID: uuid.New().String(), Code: "012345678905", Brand: "Acme", Name: "Soap",
		Category: model.CategoryNonFood, Frequency: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := products.Create(ctx, p); err != nil {
		t.Fatalf("商品作成に失敗: %v", err)
	}
	p.Name = "Soap Bar"
	if err := products.UpdateSighting(ctx, p); err != nil {
		t.Fatalf("商品更新に失敗: %v", err)
	}
	if p.Frequency != 2 {
		t.Errorf("観測回数 = %d, want 2", p.Frequency)
	}

	found, err := products.FindByCode(ctx, p.Code)
	if err != nil || found == nil {
		t.Fatalf("商品取得に失敗: %v", err)
	}
	if found.Name != "Soap Bar" || found.Spec != "" {
		t.Errorf("取得した商品 = %+v", found)
	}
	if missing, err := products.FindByCode(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("存在しない商品: got %v, err %v", missing, err)
	}

	end := now.Add(48 * time.Hour)
	mkDeal := func(id int64, seen time.Time) *model.Deal {
		return &model.Deal{
			DealID: id, ProductID: p.ID, LocationID: 7, Category: model.CategoryNonFood,
			CurrentPrice: decimal.RequireFromString("3.49"),
			SourcePrice:  decimal.NewNullDecimal(decimal.RequireFromString("4.99")),
			EndTime:      &end, IsActive: true, IsLatest: true,
			RawData:     []byte(`{"id":1}`),
			FirstSeenAt: seen, LastUpdatedAt: seen,
		}
	}
	older, newer := mkDeal(100, now.Add(-time.Hour)), mkDeal(101, now)
	for _, d := range []*model.Deal{older, newer} {
		if err := deals.Create(ctx, d); err != nil {
			t.Fatalf("ディール作成に失敗: %v", err)
		}
	}

	got, err := deals.FindByDealID(ctx, 100)
	if err != nil || got == nil {
		t.Fatalf("ディール取得に失敗: %v", err)
	}
	if !got.CurrentPrice.Equal(decimal.RequireFromString("3.49")) || !got.SourcePrice.Valid {
		t.Errorf("価格の往復が一致しない: %+v", got)
	}

	count, err := deals.CountActiveByLocation(ctx, 7)
	if err != nil || count != 2 {
		t.Errorf("アクティブ件数 = %d, err %v; want 2", count, err)
	}

	loc := int64(7)
	if _, err := db.Exec(`INSERT INTO recipients (id, username, location_id) VALUES (1, 'a', 7), (2, 'b', 7)`); err != nil {
		t.Fatalf("受信者作成に失敗: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO deal_preferences (recipient_id, deal_id, is_hidden, is_favorite) VALUES (2, 101, true, false), (1, 100, false, true)`); err != nil {
		t.Fatalf("設定作成に失敗: %v", err)
	}

	locations, err := recipients.ListEnabledLocations(ctx)
	if err != nil || len(locations) != 1 || locations[0] != loc {
		t.Errorf("ロケーション一覧 = %v, err %v", locations, err)
	}
	hidden, err := prefs.HiddenRecipientIDs(ctx, 101)
	if err != nil || len(hidden) != 1 || hidden[0] != 2 {
		t.Errorf("非表示受信者 = %v, err %v", hidden, err)
	}
	fav, err := prefs.FavoritedBy(ctx, 100)
	if err != nil || len(fav) != 1 || fav[0] != 1 {
		t.Errorf("お気に入り受信者 = %v, err %v", fav, err)
	}

	rc, err := recipients.FindByID(ctx, 2)
	if err != nil || rc == nil {
		t.Fatalf("受信者取得に失敗: %v", err)
	}
	if rc.Categories.Mode() != model.CategoryFilterAll {
		t.Errorf("カテゴリ設定 = %s, want all", rc.Categories.Mode())
	}

	// 受信者2は101を非表示にしているため100のみ
	cands, err := digests.ListCandidates(ctx, rc, 10, 0)
	if err != nil {
		t.Fatalf("候補取得に失敗: %v", err)
	}
	if len(cands) != 1 || cands[0].DealID != 100 || cands[0].Product.Name != "Soap Bar" {
		t.Errorf("候補 = %+v", cands)
	}

	if err := digests.MarkSent(ctx, 2, 100); err != nil {
		t.Fatalf("配信済み記録に失敗: %v", err)
	}
	if err := digests.MarkSent(ctx, 2, 100); err != nil {
		t.Fatalf("配信済み記録の再実行に失敗: %v", err)
	}
	sent, err := digests.IsSent(ctx, 2, 100)
	if err != nil || !sent {
		t.Errorf("IsSent = %v, err %v", sent, err)
	}
	cands, err = digests.ListCandidates(ctx, rc, 10, 0)
	if err != nil || len(cands) != 0 {
		t.Errorf("配信済み後の候補 = %v, err %v", cands, err)
	}

	// 受信者1はnewerが先頭
	rc1, _ := recipients.FindByID(ctx, 1)
	cands, err = digests.ListCandidates(ctx, rc1, 1, 0)
	if err != nil || len(cands) != 1 || cands[0].DealID != 101 {
		t.Errorf("並び順: got %v, err %v", cands, err)
	}

	rec := &model.NotificationRecord{RecipientID: 1, DealID: 100, Kind: model.NotificationKindDeal, Successful: true, SentAt: now}
	if err := logs.Append(ctx, rec); err != nil {
		t.Fatalf("送信ログ記録に失敗: %v", err)
	}
	if rec.ID == "" {
		t.Error("送信ログのIDが採番されていない")
	}

	if err := deals.Deactivate(ctx, 100); err != nil {
		t.Fatalf("無効化に失敗: %v", err)
	}
	active, err := deals.ListActive(ctx)
	if err != nil || len(active) != 1 || active[0].DealID != 101 {
		t.Errorf("アクティブ一覧 = %v, err %v", active, err)
	}
}
