package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/dealsync/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type sentMessage struct {
	recipientID int64
	msg         Message
}

// mockChannel は送信内容を記録するChannel。sendFnで失敗を注入できる。
type mockChannel struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(recipientID int64, msg Message) error
}

func (m *mockChannel) Send(_ context.Context, recipientID int64, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendFn != nil {
		if err := m.sendFn(recipientID, msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, sentMessage{recipientID, msg})
	return nil
}

type memLogRepo struct {
	records   []*model.NotificationRecord
	appendErr error
}

func (m *memLogRepo) Append(_ context.Context, rec *model.NotificationRecord) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

type mockRecipientRepo struct {
	byID map[int64]*model.Recipient
	err  error
}

func (m *mockRecipientRepo) FindByID(_ context.Context, id int64) (*model.Recipient, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byID[id], nil
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

type mockPreferenceRepo struct {
	favorited []int64
	err       error
}

func (m *mockPreferenceRepo) HiddenRecipientIDs(context.Context, int64) ([]int64, error) {
	return nil, nil
}

func (m *mockPreferenceRepo) FavoritedBy(context.Context, int64) ([]int64, error) {
	return m.favorited, m.err
}

type memDigestRepo struct {
	sent map[[2]int64]bool
}

func newMemDigestRepo() *memDigestRepo {
	return &memDigestRepo{sent: map[[2]int64]bool{}}
}

func (m *memDigestRepo) IsSent(_ context.Context, r, d int64) (bool, error) {
	return m.sent[[2]int64{r, d}], nil
}

func (m *memDigestRepo) MarkSent(_ context.Context, r, d int64) error {
	m.sent[[2]int64{r, d}] = true
	return nil
}

func (m *memDigestRepo) ListCandidates(context.Context, *model.Recipient, int, int) ([]*model.DealWithProduct, error) {
	return nil, nil
}

// countingPacer は待機回数を数える即時のPacer。
type countingPacer struct {
	waits int
	err   error
}

func (p *countingPacer) Wait(context.Context) error {
	p.waits++
	return p.err
}

type fixture struct {
	d          *Dispatcher
	channel    *mockChannel
	logs       *memLogRepo
	recipients *mockRecipientRepo
	prefs      *mockPreferenceRepo
	digests    *memDigestRepo
	pacer      *countingPacer
	buf        *bytes.Buffer
}

func newFixture() *fixture {
	f := &fixture{
		channel:    &mockChannel{},
		logs:       &memLogRepo{},
		recipients: &mockRecipientRepo{byID: map[int64]*model.Recipient{}},
		prefs:      &mockPreferenceRepo{},
		digests:    newMemDigestRepo(),
		pacer:      &countingPacer{},
		buf:        &bytes.Buffer{},
	}
	f.d = NewDispatcher(f.channel, f.logs, f.recipients, f.prefs, f.digests, nil, f.pacer, newTestLogger(f.buf))
	f.d.now = func() time.Time { return renderNow }
	return f
}

func (f *fixture) addRecipient(id int64, enabled bool) {
	f.recipients.byID[id] = &model.Recipient{ID: id, NotificationsEnabled: enabled}
}

func TestNotifyOne_Success(t *testing.T) {
	f := newFixture()

	ok := f.d.NotifyOne(context.Background(), 42, sampleDeal(), model.NotificationKindDeal)
	if !ok {
		t.Fatal("送信成功時はtrueを返すべき")
	}
	if len(f.channel.sent) != 1 || f.channel.sent[0].recipientID != 42 {
		t.Fatalf("送信内容 = %+v", f.channel.sent)
	}
	if len(f.logs.records) != 1 {
		t.Fatalf("通知ログ件数 = %d, want 1", len(f.logs.records))
	}
	rec := f.logs.records[0]
	if !rec.Successful || rec.DealID != 500 || rec.Kind != model.NotificationKindDeal || !rec.SentAt.Equal(renderNow) {
		t.Errorf("通知ログ = %+v", rec)
	}
}

func TestNotifyOne_ChannelFailureIsRecorded(t *testing.T) {
	f := newFixture()
	f.channel.sendFn = func(int64, Message) error { return errors.New("blocked by user") }

	ok := f.d.NotifyOne(context.Background(), 42, sampleDeal(), model.NotificationKindDigest)
	if ok {
		t.Fatal("送信失敗時はfalseを返すべき")
	}
	rec := f.logs.records[0]
	if rec.Successful || rec.ErrorMessage != "blocked by user" || rec.Kind != model.NotificationKindDigest {
		t.Errorf("通知ログ = %+v", rec)
	}
}

func TestNotifyOne_LogFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture()
	f.logs.appendErr = errors.New("db down")

	if !f.d.NotifyOne(context.Background(), 42, sampleDeal(), model.NotificationKindDeal) {
		t.Error("送信に成功していればログ記録の失敗に関わらずtrue")
	}
	if !strings.Contains(f.buf.String(), "通知ログの記録に失敗しました") {
		t.Error("ログ記録の失敗が出力されていない")
	}
}

func TestNotifyBatch_CountsAndPaces(t *testing.T) {
	f := newFixture()
	f.channel.sendFn = func(id int64, _ Message) error {
		if id == 2 {
			return errors.New("fail")
		}
		return nil
	}
	recipients := []*model.Recipient{{ID: 1}, {ID: 2}, {ID: 3}}

	res := f.d.NotifyBatch(context.Background(), recipients, sampleDeal())
	if res.Success != 2 || res.Failed != 1 {
		t.Errorf("結果 = %+v, want 2/1", res)
	}
	if len(res.Delivered) != 2 || res.Delivered[0] != 1 || res.Delivered[1] != 3 {
		t.Errorf("送信成功の受信者 = %v, want [1 3]", res.Delivered)
	}
	if f.pacer.waits != 2 {
		t.Errorf("待機回数 = %d, want 2", f.pacer.waits)
	}
}

func TestNotifyBatch_StopsWhenPacerCancelled(t *testing.T) {
	f := newFixture()
	f.pacer.err = context.Canceled

	res := f.d.NotifyBatch(context.Background(), []*model.Recipient{{ID: 1}, {ID: 2}}, sampleDeal())
	if res.Success != 1 || len(f.channel.sent) != 1 {
		t.Errorf("キャンセル後は送信しない: %+v", res)
	}
}

func TestNotifyFavoriteReappeared(t *testing.T) {
	f := newFixture()
	f.prefs.favorited = []int64{1, 2, 3, 4, 5}
	f.addRecipient(1, true)
	f.addRecipient(2, false) // 通知無効
	f.addRecipient(3, true)  // 配信済み
	f.addRecipient(5, true)
	// 4 は受信者が存在しない
	f.digests.sent[[2]int64{3, 500}] = true

	res, err := f.d.NotifyFavoriteReappeared(context.Background(), sampleDeal())
	if err != nil {
		t.Fatalf("NotifyFavoriteReappeared がエラーを返した: %v", err)
	}
	if res.Success != 2 || res.Failed != 0 {
		t.Errorf("結果 = %+v, want 2/0", res)
	}

	// 受信者ごとに 案内 → ディール の順
	if len(f.channel.sent) != 4 {
		t.Fatalf("送信件数 = %d, want 4", len(f.channel.sent))
	}
	if f.channel.sent[0].msg.Text != FavoriteBackNotice || f.channel.sent[0].recipientID != 1 {
		t.Errorf("1通目 = %+v", f.channel.sent[0])
	}
	if f.channel.sent[1].msg.Buttons == nil || f.channel.sent[1].recipientID != 1 {
		t.Errorf("2通目 = %+v", f.channel.sent[1])
	}
	if f.channel.sent[2].recipientID != 5 {
		t.Errorf("3通目の宛先 = %d, want 5", f.channel.sent[2].recipientID)
	}

	for _, id := range []int64{1, 5} {
		if !f.digests.sent[[2]int64{id, 500}] {
			t.Errorf("受信者 %d が配信済みとして記録されていない", id)
		}
	}
	if f.digests.sent[[2]int64{2, 500}] {
		t.Error("通知無効の受信者を配信済みにしてはならない")
	}
	if f.pacer.waits != 1 {
		t.Errorf("待機回数 = %d, want 1", f.pacer.waits)
	}
	for _, rec := range f.logs.records {
		if rec.Kind != model.NotificationKindFavorite {
			t.Errorf("通知種別 = %s, want favorite", rec.Kind)
		}
	}
}

func TestNotifyFavoriteReappeared_FailedSendNotMarked(t *testing.T) {
	f := newFixture()
	f.prefs.favorited = []int64{1, 2}
	f.addRecipient(1, true)
	f.addRecipient(2, true)
	f.channel.sendFn = func(id int64, msg Message) error {
		if id == 1 && msg.Text == FavoriteBackNotice {
			return errors.New("fail")
		}
		if id == 2 && msg.Text != FavoriteBackNotice {
			return errors.New("fail")
		}
		return nil
	}

	res, err := f.d.NotifyFavoriteReappeared(context.Background(), sampleDeal())
	if err != nil {
		t.Fatalf("NotifyFavoriteReappeared がエラーを返した: %v", err)
	}
	if res.Failed != 2 || res.Success != 0 {
		t.Errorf("結果 = %+v, want 0/2", res)
	}
	if len(f.digests.sent) != 0 {
		t.Error("失敗した送信を配信済みにしてはならない")
	}
	// 案内の送信に失敗した受信者にはディールを送らない
	for _, s := range f.channel.sent {
		if s.recipientID == 1 && s.msg.Text != FavoriteBackNotice {
			t.Error("受信者1にはディールを送信しない")
		}
	}
	// 両受信者とも失敗した通知として記録される
	if len(f.logs.records) != 2 {
		t.Fatalf("通知ログ件数 = %d, want 2", len(f.logs.records))
	}
	for _, rec := range f.logs.records {
		if rec.Successful || rec.Kind != model.NotificationKindFavorite || rec.DealID != 500 || rec.ErrorMessage == "" {
			t.Errorf("通知ログ = %+v", rec)
		}
	}
	if f.logs.records[0].RecipientID != 1 {
		t.Errorf("案内失敗の記録先 = %d, want 1", f.logs.records[0].RecipientID)
	}
}

func TestNotifyFavoriteReappeared_Errors(t *testing.T) {
	f := newFixture()
	f.prefs.err = errors.New("db down")
	if _, err := f.d.NotifyFavoriteReappeared(context.Background(), sampleDeal()); err == nil {
		t.Fatal("お気に入り取得の失敗はエラーを返すべき")
	}

	f = newFixture()
	f.prefs.favorited = []int64{1}
	f.recipients.err = errors.New("db down")
	res, err := f.d.NotifyFavoriteReappeared(context.Background(), sampleDeal())
	if err != nil {
		t.Fatalf("受信者単位の失敗はエラーにしない: %v", err)
	}
	if res.Success+res.Failed != 0 || len(f.channel.sent) != 0 {
		t.Errorf("受信者取得に失敗した場合は送信しない: %+v", res)
	}
}

func TestSendNotice(t *testing.T) {
	f := newFixture()
	err := f.d.SendNotice(context.Background(), 9, "hello", Button{Label: "x", Data: "y"})
	if err != nil {
		t.Fatalf("SendNotice がエラーを返した: %v", err)
	}
	if got := f.channel.sent[0].msg; got.Text != "hello" || len(got.Buttons) != 1 {
		t.Errorf("送信内容 = %+v", got)
	}
	if len(f.logs.records) != 0 {
		t.Error("案内メッセージは通知ログに記録しない")
	}
}
