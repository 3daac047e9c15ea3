package bot

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-assistant/internal/analytics"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/contextstore"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/intent"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/ledger/inmemory"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/nlu"
	"github.com/dvloznov/finance-assistant/internal/params"
)

const (
	anna   = "@anna:example.org"
	boris  = "@boris:example.org"
	tanya  = `{"type":"finance","operation_type":"Outflow","amount":-30000,"category":"Выплаты учредителям","description":"Таня","comment":"","confidence":0.9}`
	tula   = `{"type":"finance","operation_type":"Outflow","amount":5000,"category":"Закупка товара","description":"за товары","confidence":0.95}`
	unsure = `{"type":"finance","operation_type":"Outflow","amount":-7000,"category":"Такси","description":"Такси до склада","confidence":0.5}`
)

// MockModel is a mock implementation of nlu.Model.
type MockModel struct {
	GenerateFunc func(ctx context.Context, req nlu.Request) (string, error)
	calls        int
}

func (m *MockModel) Generate(ctx context.Context, req nlu.Request) (string, error) {
	m.calls++
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return "", errors.New("not implemented")
}

// MockTranscriber is a mock implementation of nlu.Transcriber.
type MockTranscriber struct {
	TranscribeFunc func(ctx context.Context, audio []byte, mimeType string) (string, error)
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, mimeType)
	}
	return "", errors.New("not implemented")
}

var (
	msk = time.FixedZone("MSK", 3*60*60)
	now = time.Date(2025, 3, 15, 12, 0, 0, 0, msk)
)

func fixedNow() time.Time { return now }

type fixture struct {
	svc     *Service
	store   *inmemory.Store
	model   *MockModel
	mutator *ledger.Mutator
	ctx     context.Context
}

// newFixture wires the real core over an in-memory ledger. The model answers
// with the response whose key occurs in the prompt.
func newFixture(t *testing.T, responses map[string]string, transcriber nlu.Transcriber) *fixture {
	t.Helper()

	store := inmemory.NewStore()
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(io.Discard))
	if err := store.EnsureHeader(ctx); err != nil {
		t.Fatal(err)
	}
	store.Seed(
		[]string{"10.03.2025", "Расход", "Зарплаты сотрудникам", "Петров", "-40000", ""},
		[]string{"12.03.2025", "Пополнение", "-", "Выручка", "100000", ""},
		[]string{"14.03.2025", "Расход", "Оплата поставщику", "Интигам", "-60000", ""},
	)

	model := &MockModel{
		GenerateFunc: func(ctx context.Context, req nlu.Request) (string, error) {
			for key, resp := range responses {
				if strings.Contains(req.Prompt, key) {
					return resp, nil
				}
			}
			return `{"type":"clarification","message":"Не понял сумму.","suggestions":["дал Тане 30000"]}`, nil
		},
	}

	contexts := contextstore.New(filepath.Join(t.TempDir(), "user_context.json"))
	cache := ledger.NewCache(store, time.Hour, ledger.WithClock(fixedNow))
	mutator := ledger.NewMutator(store, cache, contexts,
		ledger.WithLocation(msk),
		ledger.WithMutatorClock(fixedNow),
	)
	classifier := intent.NewClassifier(model)

	svc, err := New(Deps{
		AllowedUsers: []string{anna, boris},
		Resolver:     intent.NewResolver(classifier, mutator, contexts),
		Classifier:   classifier,
		Mutator:      mutator,
		Snapshots:    cache,
		Contexts:     contexts,
		Engine:       analytics.NewEngine(analytics.WithLocation(msk), analytics.WithClock(fixedNow)),
		Extractor:    params.NewExtractor(),
		Backups:      backup.NewService(cache, msk).WithClock(fixedNow),
		Transcriber:  transcriber,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &fixture{svc: svc, store: store, model: model, mutator: mutator, ctx: ctx}
}

func (f *fixture) rows(t *testing.T) []ledger.Row {
	t.Helper()
	rows, err := f.store.Rows(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func assertContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("reply missing %q\n--- reply ---\n%s", want, got)
		}
	}
}

func TestNew_EmptyAllowListIsConfigurationError(t *testing.T) {
	_, err := New(Deps{AllowedUsers: []string{" ", ""}})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestHandleText_AccessDeniedBeforeCore(t *testing.T) {
	f := newFixture(t, map[string]string{"Тане": tanya}, nil)

	for _, text := range []string{"дал Тане лично 30000", "/clear_table", "/backup"} {
		reply := f.svc.HandleText(f.ctx, "@mallory:example.org", text)
		if reply.Text != MessageAccessDenied {
			t.Errorf("HandleText(%q) = %q, want access denied", text, reply.Text)
		}
		if reply.Attachment != nil {
			t.Errorf("HandleText(%q) leaked an attachment", text)
		}
	}
	if f.model.calls != 0 {
		t.Errorf("model called %d times for a rejected user", f.model.calls)
	}
	if n := len(f.rows(t)); n != 3 {
		t.Errorf("ledger has %d rows, want 3", n)
	}

	reply := f.svc.HandleVoice(f.ctx, "@mallory:example.org", []byte("ogg"), "audio/ogg")
	if reply.Text != MessageAccessDenied {
		t.Errorf("HandleVoice() = %q, want access denied", reply.Text)
	}
}

func TestHandleText_FinanceCommitted(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		response string
		wantRow  []string
		wantText []string
	}{
		{
			name:     "founder payout",
			text:     "дал Тане лично 30000",
			response: tanya,
			wantRow:  []string{"15.03.2025", "Расход", "Выплаты учредителям", "Таня", "-30000", ""},
			wantText: []string{"📉 **Финансовая операция записана:**", "📅 Дата: 15.03.2025", "📂 Категория: Выплаты учредителям", "💰 Сумма: -30,000 ₽"},
		},
		{
			name:     "market keyword overrides category",
			text:     "рынок тула 5000 за товары",
			response: tula,
			wantRow:  []string{"15.03.2025", "Расход", "Закупка Тула", "За товары", "-5000", ""},
			wantText: []string{"📂 Категория: Закупка Тула", "💰 Сумма: -5,000 ₽"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{tt.text: tt.response}, nil)

			reply := f.svc.HandleText(f.ctx, anna, tt.text)
			assertContains(t, reply.Text, tt.wantText...)

			rows := f.rows(t)
			if len(rows) != 4 {
				t.Fatalf("ledger has %d rows, want 4", len(rows))
			}
			got := rows[3].Values
			if strings.Join(got, "|") != strings.Join(tt.wantRow, "|") {
				t.Errorf("row = %q, want %q", got, tt.wantRow)
			}
		})
	}
}

func TestHandleText_LowConfidenceNeedsConfirmation(t *testing.T) {
	f := newFixture(t, map[string]string{"такси": unsure}, nil)

	reply := f.svc.HandleText(f.ctx, anna, "такси 7000")
	assertContains(t, reply.Text, "❓ **Проверьте правильность:**", "📂 Категория: Такси", "💰 Сумма: -7,000 ₽")
	if n := len(f.rows(t)); n != 3 {
		t.Fatalf("ledger has %d rows before confirmation, want 3", n)
	}

	// Another user's "да" does not confirm anna's operation.
	if got := f.svc.HandleText(f.ctx, boris, "/yes"); got.Text != MessageNothingPending {
		t.Errorf("boris /yes = %q", got.Text)
	}

	reply = f.svc.HandleText(f.ctx, anna, "Да")
	assertContains(t, reply.Text, "Финансовая операция записана", "Такси до склада")
	if n := len(f.rows(t)); n != 4 {
		t.Errorf("ledger has %d rows after confirmation, want 4", n)
	}

	f.svc.HandleText(f.ctx, anna, "такси 7000")
	if reply := f.svc.HandleText(f.ctx, anna, "нет"); reply.Text != MessageCancelled {
		t.Errorf("rejection reply = %q", reply.Text)
	}
	if n := len(f.rows(t)); n != 4 {
		t.Errorf("ledger has %d rows after rejection, want 4", n)
	}
}

func TestHandleText_Clarification(t *testing.T) {
	f := newFixture(t, nil, nil)

	reply := f.svc.HandleText(f.ctx, anna, "что-то непонятное")
	want := "❓ Не понял сумму.\n\n💡 **Возможно, вы имели в виду:**\n1. дал Тане 30000"
	if reply.Text != want {
		t.Errorf("reply = %q, want %q", reply.Text, want)
	}
}

func TestHandleText_RouterCommands(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"кому платили", []string{"👥 **Топ получателей:**\n• Интигам: 60,000 ₽\n• Петров: 40,000 ₽"}},
		{"анализ поставщиков", []string{"🏭 **Топ поставщиков:**\n• Интигам: 60,000 ₽"}},
		{"расходы по категориям", []string{"📂 **Расходы по категориям:**\n• Оплата поставщику: 60,000 ₽ (60.0%)\n• Зарплаты сотрудникам: 40,000 ₽ (40.0%)"}},
		{"найди Петрова", []string{"🔍 **Найдено: 1 операций**", "📉 10.03.2025: Петров - -40,000 ₽"}},
		{"покажи траты за неделю", []string{"📊 **Умная аналитика за период неделя**"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			reply := f.svc.HandleText(f.ctx, anna, tt.text)
			assertContains(t, reply.Text, tt.want...)
			if f.model.calls != 0 {
				t.Errorf("model called %d times for a router command", f.model.calls)
			}
		})
	}
}

func TestHandleText_Analytics(t *testing.T) {
	f := newFixture(t, nil, nil)

	reply := f.svc.HandleText(f.ctx, anna, "/analytics")
	assertContains(t, reply.Text,
		"📊 **Умная аналитика за период 30 дней**",
		"📈 Доходы: +100,000 ₽",
		"📉 Расходы: -100,000 ₽",
		"💼 Чистый результат: 0 ₽",
		"📊 Операций: 3",
		"• Оплата поставщику: -60,000 ₽ (60.0%)\n• Зарплаты сотрудникам: -40,000 ₽ (40.0%)",
		"👥 **Зарплаты сотрудникам:**\n• Петров: 40,000 ₽",
		"📈 **Средние траты в день:** 3,333 ₽",
		"🔝 **Больше всего тратите на:** Оплата поставщику",
	)

	reply = f.svc.HandleText(f.ctx, anna, "/analytics январь")
	assertContains(t, reply.Text, "за период январь")
}

func TestHandleText_AnalyticsEmptyPeriod(t *testing.T) {
	f := newFixture(t, nil, nil)
	if _, err := f.mutator.Clear(f.ctx, anna); err != nil {
		t.Fatal(err)
	}

	reply := f.svc.HandleText(f.ctx, anna, "/analytics")
	if reply.Text != "📊 Нет данных за указанный период (30 дней)." {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestHandleText_Search(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		text string
		want []string
	}{
		{"/search", []string{"🔍 **Супер-поиск операций:**"}},
		{"/search >50000", []string{"🔍 **Найдено: 1 операций**", "📈 12.03.2025: Выручка - 100,000 ₽", "📊 **Общая сумма:** 100,000 ₽"}},
		{"/search <-35000", []string{"🔍 **Найдено: 2 операций**", "📉 14.03.2025: Интигам - -60,000 ₽\n📉 10.03.2025: Петров", "📊 **Общая сумма:** -100,000 ₽"}},
		{"/search Никто", []string{"❌ По запросу 'никто' ничего не найдено."}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assertContains(t, f.svc.HandleText(f.ctx, anna, tt.text).Text, tt.want...)
		})
	}
}

func TestHandleText_History(t *testing.T) {
	f := newFixture(t, map[string]string{"Тане": tanya}, nil)

	reply := f.svc.HandleText(f.ctx, anna, "/history")
	assertContains(t, reply.Text, "📊 **Контекст пуст**", "📉 Интигам: -60,000 ₽\n📈 Выручка: 100,000 ₽\n📉 Петров: -40,000 ₽")

	f.svc.HandleText(f.ctx, anna, "дал Тане лично 30000")
	reply = f.svc.HandleText(f.ctx, anna, "/history")
	assertContains(t, reply.Text,
		"🧠 **Контекст последних операций:**\n\n1. Таня: -30,000 ₽ (Выплаты учредителям)",
		"📉 Таня: -30,000 ₽\n📉 Интигам: -60,000 ₽\n📈 Выручка: 100,000 ₽",
	)

	// Context is per user.
	assertContains(t, f.svc.HandleText(f.ctx, boris, "/history").Text, "📊 **Контекст пуст**")
}

func TestHandleText_Backup(t *testing.T) {
	f := newFixture(t, nil, nil)

	reply := f.svc.HandleText(f.ctx, anna, "/backup")
	if reply.Attachment == nil {
		t.Fatal("expected an attachment")
	}
	if reply.Attachment.Name != "backup_20250315_1200.json" {
		t.Errorf("attachment name = %q", reply.Attachment.Name)
	}
	assertContains(t, reply.Text, "💾 **Резервная копия создана!**", "📊 Записей: 3", "📅 Дата: 15.03.2025 12:00")

	doc, err := backup.Decode(reply.Attachment.Data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if doc.RecordCount != 3 || doc.Records[2]["Описание/Получатель"] != "Интигам" {
		t.Errorf("document = %+v", doc)
	}
}

func TestHandleText_ClearTable(t *testing.T) {
	f := newFixture(t, nil, nil)

	if got := f.svc.HandleText(f.ctx, anna, "/clear_table").Text; got != MessageClearWarning {
		t.Fatalf("reply = %q", got)
	}
	if got := f.svc.HandleText(f.ctx, anna, "нет").Text; got != MessageCancelled {
		t.Errorf("cancel reply = %q", got)
	}
	if n := len(f.rows(t)); n != 3 {
		t.Fatalf("ledger has %d rows after cancel, want 3", n)
	}

	// A casual acknowledgement is not consent to wipe the ledger.
	f.svc.HandleText(f.ctx, anna, "/clear_table")
	if got := f.svc.HandleText(f.ctx, anna, "ок").Text; got != MessageCancelled {
		t.Errorf("ок reply = %q, want cancelled", got)
	}
	if n := len(f.rows(t)); n != 3 {
		t.Fatalf("ledger has %d rows after ок, want 3", n)
	}

	// The confirmation belongs to the user who asked.
	f.svc.HandleText(f.ctx, anna, "/clear_table")
	if got := f.svc.HandleText(f.ctx, boris, "/yes").Text; got != MessageNothingPending {
		t.Errorf("boris /yes = %q", got)
	}
	if got := f.svc.HandleText(f.ctx, anna, "да").Text; got != MessageTableCleared {
		t.Errorf("confirm reply = %q", got)
	}
	if n := len(f.rows(t)); n != 0 {
		t.Errorf("ledger has %d rows after clear, want 0", n)
	}
	if h := f.store.Header(); len(h) != len(domain.SheetHeader) {
		t.Errorf("header = %q, want it kept", h)
	}
}

func TestHandleText_DeleteAndEditLast(t *testing.T) {
	f := newFixture(t, map[string]string{"Тане": tanya}, nil)

	if got := f.svc.HandleText(f.ctx, anna, "/delete_last").Text; got != MessageNoLast {
		t.Errorf("delete without history = %q", got)
	}

	f.svc.HandleText(f.ctx, anna, "дал Тане лично 30000")
	reply := f.svc.HandleText(f.ctx, anna, "/edit_last сумма 35 000")
	assertContains(t, reply.Text, "Операция изменена", "💰 Сумма: -35,000 ₽", "📅 Дата: 15.03.2025")
	rows := f.rows(t)
	if got := rows[3].Values[4]; got != "-35000" {
		t.Errorf("edited amount cell = %q, want -35000", got)
	}

	if got := f.svc.HandleText(f.ctx, anna, "/edit_last").Text; got != MessageEditHelp {
		t.Errorf("edit without text = %q", got)
	}

	if got := f.svc.HandleText(f.ctx, anna, "/delete_last").Text; got != MessageDeletedLast {
		t.Errorf("delete reply = %q", got)
	}
	if n := len(f.rows(t)); n != 3 {
		t.Errorf("ledger has %d rows after delete, want 3", n)
	}
}

func TestHandleText_UnknownCommand(t *testing.T) {
	f := newFixture(t, nil, nil)
	if got := f.svc.HandleText(f.ctx, anna, "/dance").Text; got != MessageUnknownCommand {
		t.Errorf("reply = %q", got)
	}
	assertContains(t, f.svc.HandleText(f.ctx, anna, "/start@finbot").Text, "Умный финансовый помощник")
}

func TestHandleVoice(t *testing.T) {
	t.Run("transcribed text is recorded", func(t *testing.T) {
		tr := &MockTranscriber{
			TranscribeFunc: func(ctx context.Context, audio []byte, mimeType string) (string, error) {
				if mimeType != "audio/ogg" {
					t.Errorf("mimeType = %q", mimeType)
				}
				return " рынок тула 5000 за товары ", nil
			},
		}
		f := newFixture(t, map[string]string{"рынок тула": tula}, tr)

		reply := f.svc.HandleVoice(f.ctx, anna, []byte("ogg"), "audio/ogg")
		if !strings.HasPrefix(reply.Text, "📝 Распознал: \"рынок тула 5000 за товары\"") {
			t.Errorf("reply = %q", reply.Text)
		}
		assertContains(t, reply.Text, "🎤 \"рынок тула 5000 за товары\"", "📂 Категория: Закупка Тула")
		if n := len(f.rows(t)); n != 4 {
			t.Errorf("ledger has %d rows, want 4", n)
		}
	})

	t.Run("transcription failure", func(t *testing.T) {
		tr := &MockTranscriber{}
		f := newFixture(t, nil, tr)
		if got := f.svc.HandleVoice(f.ctx, anna, []byte("ogg"), "audio/ogg").Text; got != MessageVoiceFailed {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("voice disabled", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		if got := f.svc.HandleVoice(f.ctx, anna, []byte("ogg"), "audio/ogg").Text; got != MessageVoiceDisabled {
			t.Errorf("reply = %q", got)
		}
	})
}

func TestProcess_SetsJobReply(t *testing.T) {
	f := newFixture(t, nil, nil)
	job := &jobs.MessageJob{UserID: anna, Kind: jobs.KindText, Text: "/help"}

	reply := f.svc.Process(f.ctx, job)
	if job.Reply != reply.Text || reply.Text != helpText {
		t.Errorf("job.Reply = %q", job.Reply)
	}
}

func TestConfirmation(t *testing.T) {
	tests := map[string]answer{
		"да": answerYes, "Да!": answerYes, "yes": answerYes, "/yes": answerYes,
		"нет": answerNo, "No": answerNo, "/no": answerNo,
		"да, но сумма другая": answerNone, "": answerNone,
	}
	for in, want := range tests {
		if got := confirmation(in); got != want {
			t.Errorf("confirmation(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClearConfirmed(t *testing.T) {
	tests := map[string]bool{
		"да": true, "Да!": true, "yes": true, "/yes": true,
		"ок": false, "ok": false, "нет": false, "да, но потом": false,
	}
	for in, want := range tests {
		if got := clearConfirmed(in); got != want {
			t.Errorf("clearConfirmed(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAmountEdit(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"сумма 50000", "50000", true},
		{"Сумма: 35 000 ₽", "35000", true},
		{"сумму 1250,5", "1250.5", true},
		{"дал Тане 30000", "", false},
	}
	for _, tt := range tests {
		got, ok := amountEdit(tt.in)
		if ok != tt.ok {
			t.Errorf("amountEdit(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.String() != tt.want {
			t.Errorf("amountEdit(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
