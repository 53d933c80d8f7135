package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/dealsync/internal/dispatch"
	"github.com/hitoshi/dealsync/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type mockRecipientRepo struct {
	byID map[int64]*model.Recipient
	err  error
}

func (m *mockRecipientRepo) FindByID(_ context.Context, id int64) (*model.Recipient, error) {
	return m.byID[id], m.err
}

func (m *mockRecipientRepo) ListEnabled(context.Context) ([]*model.Recipient, error) {
	return nil, nil
}

func (m *mockRecipientRepo) ListEnabledByLocation(context.Context, int64) ([]*model.Recipient, error) {
	return nil, nil
}

func (m *mockRecipientRepo) ListEnabledLocations(context.Context) ([]int64, error) {
	return nil, nil
}

// memDigestRepo は候補をfirst_seen_at降順に並んだスライスとして持ち、
// 配信済みのディールを除外して返す。
type memDigestRepo struct {
	deals   []*model.DealWithProduct
	sent    map[int64]bool
	listErr error
	calls   []string
}

func (m *memDigestRepo) IsSent(_ context.Context, _, dealID int64) (bool, error) {
	return m.sent[dealID], nil
}

func (m *memDigestRepo) MarkSent(_ context.Context, _, dealID int64) error {
	m.sent[dealID] = true
	return nil
}

func (m *memDigestRepo) ListCandidates(_ context.Context, _ *model.Recipient, limit, offset int) ([]*model.DealWithProduct, error) {
	m.calls = append(m.calls, fmt.Sprintf("%d@%d", limit, offset))
	if m.listErr != nil {
		return nil, m.listErr
	}
	var unsent []*model.DealWithProduct
	for _, d := range m.deals {
		if !m.sent[d.DealID] {
			unsent = append(unsent, d)
		}
	}
	if offset >= len(unsent) {
		return nil, nil
	}
	end := offset + limit
	if end > len(unsent) {
		end = len(unsent)
	}
	return unsent[offset:end], nil
}

type notice struct {
	recipientID int64
	text        string
	buttons     []dispatch.Button
}

type mockNotifier struct {
	deals     []int64
	notices   []notice
	notifyFn  func(dealID int64) bool
	noticeErr error
	noticeFn  func(text string) error
}

func (m *mockNotifier) NotifyOne(_ context.Context, _ int64, d *model.DealWithProduct, kind model.NotificationKind) bool {
	if kind != model.NotificationKindDigest {
		panic("unexpected kind " + kind)
	}
	m.deals = append(m.deals, d.DealID)
	if m.notifyFn != nil {
		return m.notifyFn(d.DealID)
	}
	return true
}

func (m *mockNotifier) SendNotice(_ context.Context, recipientID int64, text string, buttons ...dispatch.Button) error {
	m.notices = append(m.notices, notice{recipientID, text, buttons})
	if m.noticeFn != nil {
		return m.noticeFn(text)
	}
	return m.noticeErr
}

type noopPacer struct{ waits int }

func (p *noopPacer) Wait(context.Context) error {
	p.waits++
	return nil
}

type fixture struct {
	p        *Paginator
	repo     *memDigestRepo
	notifier *mockNotifier
	pacer    *noopPacer
	rcpt     *model.Recipient
}

func newFixture(dealCount, pageSize int) *fixture {
	loc := int64(7)
	rc := &model.Recipient{ID: 1, LocationID: &loc, NotificationsEnabled: true, Categories: model.AllCategories()}
	repo := &memDigestRepo{sent: map[int64]bool{}}
	for i := 0; i < dealCount; i++ {
		repo.deals = append(repo.deals, &model.DealWithProduct{
			Deal: model.Deal{DealID: int64(100 + i), LocationID: 7, Category: model.CategoryFood, IsActive: true, IsLatest: true},
		})
	}
	f := &fixture{
		repo:     repo,
		notifier: &mockNotifier{},
		pacer:    &noopPacer{},
		rcpt:     rc,
	}
	var buf bytes.Buffer
	f.p = NewPaginator(&mockRecipientRepo{byID: map[int64]*model.Recipient{1: rc}}, repo, f.notifier, f.pacer, pageSize, newTestLogger(&buf))
	return f
}

func TestSendPage_PartialFirstPage(t *testing.T) {
	f := newFixture(3, 10)

	res, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("SendPage がエラーを返した: %v", err)
	}
	if res.Sent != 3 || res.NextOffset != -1 {
		t.Errorf("結果 = %+v", res)
	}
	if len(f.notifier.notices) != 1 || !strings.Contains(f.notifier.notices[0].text, "Found 3 new deals") {
		t.Errorf("見出し = %+v", f.notifier.notices)
	}
	if !strings.Contains(f.notifier.notices[0].text, "<b>Daily Digest</b>") {
		t.Errorf("見出しの書式 = %q", f.notifier.notices[0].text)
	}
	if len(f.repo.sent) != 3 {
		t.Errorf("配信済み件数 = %d, want 3", len(f.repo.sent))
	}
	if f.pacer.waits != 2 {
		t.Errorf("待機回数 = %d, want 2", f.pacer.waits)
	}
}

func TestSendPage_FullPageWithMore(t *testing.T) {
	f := newFixture(25, 10)

	res, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("SendPage がエラーを返した: %v", err)
	}
	if res.Sent != 10 || res.NextOffset != 10 {
		t.Errorf("結果 = %+v", res)
	}

	if !strings.Contains(f.notifier.notices[0].text, "Found many new deals") {
		t.Errorf("満ページの見出し = %q", f.notifier.notices[0].text)
	}
	last := f.notifier.notices[len(f.notifier.notices)-1]
	if last.text != "Showing 1-10. Want to see more?" {
		t.Errorf("継続メッセージ = %q", last.text)
	}
	if len(last.buttons) != 1 || last.buttons[0].Data != "digest:10" || last.buttons[0].Label != "👇 Show More Deals" {
		t.Errorf("継続ボタン = %+v", last.buttons)
	}
	// 続きの確認は1件だけ取得する
	if f.repo.calls[len(f.repo.calls)-1] != "1@10" {
		t.Errorf("続きの確認クエリ = %v", f.repo.calls)
	}
}

func TestSendPage_FullPageWithoutMore(t *testing.T) {
	f := newFixture(10, 10)

	res, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("SendPage がエラーを返した: %v", err)
	}
	if res.NextOffset != -1 {
		t.Errorf("続きがない場合はNextOffset=-1: %+v", res)
	}
	if len(f.notifier.notices) != 1 {
		t.Errorf("見出し以外の案内は送らない: %+v", f.notifier.notices)
	}
}

// 配信済みのディールは候補から外れるため、offset+pageSize から再開すると
// 未送信のディールが飛ばされる。継続トークンはこの挙動を保つ。
func TestSendPage_ContinuationUsesLiteralOffset(t *testing.T) {
	f := newFixture(25, 10)

	if _, err := f.p.SendPage(context.Background(), 1, 0); err != nil {
		t.Fatal(err)
	}
	res, err := f.p.Continue(context.Background(), 1, "digest:10")
	if err != nil {
		t.Fatalf("Continue がエラーを返した: %v", err)
	}
	if res.Sent != 5 {
		t.Errorf("2ページ目の送信数 = %d, want 5", res.Sent)
	}
	// 2ページ目には見出しを送らない
	for _, n := range f.notifier.notices[2:] {
		if strings.Contains(n.text, "Daily Digest") {
			t.Error("offset>0 では見出しを送らない")
		}
	}
	if f.notifier.deals[10] != 120 {
		t.Errorf("2ページ目の先頭 = %d, want 120", f.notifier.deals[10])
	}
}

func TestSendPage_RepeatedFirstPageSendsEachDealOnce(t *testing.T) {
	f := newFixture(3, 10)

	first, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("1回目の SendPage がエラーを返した: %v", err)
	}
	noticesAfterFirst := len(f.notifier.notices)

	second, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("2回目の SendPage がエラーを返した: %v", err)
	}

	if first.Sent != 3 || second.Sent != 0 || second.Candidates != 0 {
		t.Errorf("1回目 = %+v, 2回目 = %+v", first, second)
	}
	seen := map[int64]bool{}
	for _, id := range f.notifier.deals {
		if seen[id] {
			t.Errorf("ディール %d が重複して送信された", id)
		}
		seen[id] = true
	}
	if len(f.notifier.deals) != 3 {
		t.Errorf("送信されたディール = %v, want 3件", f.notifier.deals)
	}
	if len(f.notifier.notices) != noticesAfterFirst {
		t.Errorf("2回目は見出しも案内も送らない: %+v", f.notifier.notices[noticesAfterFirst:])
	}
}

func TestSendPage_FailedContinuationNoticeDropsToken(t *testing.T) {
	f := newFixture(25, 10)
	f.notifier.noticeFn = func(text string) error {
		if strings.HasPrefix(text, "Showing") {
			return errors.New("blocked")
		}
		return nil
	}

	res, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("SendPage がエラーを返した: %v", err)
	}
	if res.Sent != 10 {
		t.Errorf("送信数 = %d, want 10", res.Sent)
	}
	if res.NextOffset != -1 {
		t.Errorf("継続メッセージが届かなかった場合はNextOffset=-1: %+v", res)
	}
}

func TestSendPage_EmptyPages(t *testing.T) {
	f := newFixture(0, 10)

	res, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil || res.Candidates != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if len(f.notifier.notices) != 0 {
		t.Error("offset=0 で候補がない場合は何も送らない")
	}

	if _, err := f.p.SendPage(context.Background(), 1, 10); err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.notices) != 1 || f.notifier.notices[0].text != "That's all the new deals for now!" {
		t.Errorf("offset>0 の終端メッセージ = %+v", f.notifier.notices)
	}
}

func TestSendPage_FailedSendIsNotMarked(t *testing.T) {
	f := newFixture(3, 10)
	f.notifier.notifyFn = func(id int64) bool { return id != 101 }

	res, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 || res.Failed != 1 {
		t.Errorf("結果 = %+v, want 2/1", res)
	}
	if f.repo.sent[101] {
		t.Error("送信に失敗したディールを配信済みにしてはならない")
	}
}

func TestSendPage_SkipsMissingOrDisabledRecipient(t *testing.T) {
	f := newFixture(3, 10)

	res, err := f.p.SendPage(context.Background(), 99, 0)
	if err != nil || res != nil {
		t.Errorf("存在しない受信者: res=%+v err=%v", res, err)
	}

	f.rcpt.NotificationsEnabled = false
	res, err = f.p.SendPage(context.Background(), 1, 0)
	if err != nil || res != nil {
		t.Errorf("通知無効の受信者: res=%+v err=%v", res, err)
	}
	if len(f.repo.calls) != 0 || len(f.notifier.notices) != 0 {
		t.Error("対象外の受信者には何も問い合わせ・送信しない")
	}
}

func TestSendPage_GuardsIneligibleCandidates(t *testing.T) {
	f := newFixture(2, 10)
	f.repo.deals[1].LocationID = 8

	res, err := f.p.SendPage(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || len(f.notifier.deals) != 1 || f.notifier.deals[0] != 100 {
		t.Errorf("対象外のディールを送信してはならない: %+v %v", res, f.notifier.deals)
	}
}

func TestSendPage_Errors(t *testing.T) {
	f := newFixture(3, 10)
	f.repo.listErr = errors.New("db down")
	if _, err := f.p.SendPage(context.Background(), 1, 0); err == nil {
		t.Error("候補取得の失敗はエラーを返すべき")
	}

	f = newFixture(3, 10)
	f.notifier.noticeErr = errors.New("blocked")
	if _, err := f.p.SendPage(context.Background(), 1, 0); err == nil {
		t.Error("見出し送信の失敗はエラーを返すべき")
	}
	if len(f.notifier.deals) != 0 {
		t.Error("見出し送信に失敗した場合はディールを送らない")
	}

	f = newFixture(3, 10)
	if _, err := f.p.SendPage(context.Background(), 1, -1); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("負のオフセット: err = %v", err)
	}
	if _, err := f.p.Continue(context.Background(), 1, "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("不正なトークン: err = %v", err)
	}
}
