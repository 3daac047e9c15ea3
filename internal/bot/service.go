// Package bot is the boundary between chat transports and the core: it
// gates access, parses commands, drives intent resolution and renders
// replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dvloznov/finance-assistant/internal/analytics"
	"github.com/dvloznov/finance-assistant/internal/backup"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/intent"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/dvloznov/finance-assistant/internal/ledger"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/nlu"
	"github.com/dvloznov/finance-assistant/internal/params"
	"github.com/dvloznov/finance-assistant/internal/router"
)

// Attachment is a file sent along with a reply.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Reply is what the transport sends back to the user.
type Reply struct {
	Text       string
	Attachment *Attachment
}

// Resolver drives utterances through classification and the confirmation gate.
type Resolver interface {
	Resolve(ctx context.Context, userID, text string) intent.Outcome
	Confirm(ctx context.Context, userID string) intent.Outcome
	Reject(userID string) intent.Outcome
	Pending(userID string) (intent.FinanceCandidate, bool)
}

// Mutator is the subset of ledger writes the boundary issues directly.
type Mutator interface {
	Edit(ctx context.Context, userID string, row int, record domain.TransactionRecord) (domain.TransactionRecord, error)
	Delete(ctx context.Context, userID string, row int) error
	Clear(ctx context.Context, userID string) (int, error)
	LastOperation(userID string) (ledger.LastOperation, bool)
}

// SnapshotSource supplies the cached ledger view.
type SnapshotSource interface {
	Get(ctx context.Context) (*ledger.Snapshot, error)
}

// ContextReader supplies a user's recent context lines.
type ContextReader interface {
	Get(userID string) []string
}

// BackupCreator exports the ledger.
type BackupCreator interface {
	Create(ctx context.Context) (backup.Backup, []string, error)
}

// Deps are the collaborators of a Service. Transcriber may be nil, which
// disables voice input.
type Deps struct {
	AllowedUsers []string
	Resolver     Resolver
	Classifier   intent.IntentClassifier
	Mutator      Mutator
	Snapshots    SnapshotSource
	Contexts     ContextReader
	Engine       *analytics.Engine
	Extractor    *params.Extractor
	Backups      BackupCreator
	Transcriber  nlu.Transcriber
}

// Service handles one inbound message at a time per call; it is safe for
// concurrent use.
type Service struct {
	allowed     map[string]struct{}
	resolver    Resolver
	classifier  intent.IntentClassifier
	mutator     Mutator
	snapshots   SnapshotSource
	contexts    ContextReader
	engine      *analytics.Engine
	extractor   *params.Extractor
	backups     BackupCreator
	transcriber nlu.Transcriber

	mu           sync.Mutex
	pendingClear map[string]bool
}

// New validates deps and builds a Service. An empty allow-list is a
// configuration error.
func New(d Deps) (*Service, error) {
	allowed := make(map[string]struct{}, len(d.AllowedUsers))
	for _, u := range d.AllowedUsers {
		if u = strings.TrimSpace(u); u != "" {
			allowed[u] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("New: allow-list is empty: %w", domain.ErrConfiguration)
	}
	if d.Resolver == nil || d.Classifier == nil || d.Mutator == nil || d.Snapshots == nil ||
		d.Contexts == nil || d.Engine == nil || d.Extractor == nil || d.Backups == nil {
		return nil, fmt.Errorf("New: missing collaborator: %w", domain.ErrConfiguration)
	}
	return &Service{
		allowed:      allowed,
		resolver:     d.Resolver,
		classifier:   d.Classifier,
		mutator:      d.Mutator,
		snapshots:    d.Snapshots,
		contexts:     d.Contexts,
		engine:       d.Engine,
		extractor:    d.Extractor,
		backups:      d.Backups,
		transcriber:  d.Transcriber,
		pendingClear: make(map[string]bool),
	}, nil
}

// Allowed reports whether userID is on the allow-list.
func (s *Service) Allowed(userID string) bool {
	_, ok := s.allowed[userID]
	return ok
}

// Process handles a queued message job and stores the reply text on it.
func (s *Service) Process(ctx context.Context, job *jobs.MessageJob) Reply {
	var reply Reply
	switch job.Kind {
	case jobs.KindVoice:
		reply = s.HandleVoice(ctx, job.UserID, job.Audio, job.AudioMIME)
	default:
		reply = s.HandleText(ctx, job.UserID, job.Text)
	}
	job.Reply = reply.Text
	return reply
}

// HandleText handles a typed message or slash command.
func (s *Service) HandleText(ctx context.Context, userID, text string) Reply {
	if !s.Allowed(userID) {
		log := logger.FromContext(ctx)
		log.Warn().Str("user_id", userID).Msg("Rejected message from user outside allow-list")
		return Reply{Text: MessageAccessDenied}
	}
	ctx = logger.WithContext(ctx, logger.WithUser(logger.FromContext(ctx), userID))

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, userID, text)
	}
	return s.handleUtterance(ctx, userID, text, "")
}

// HandleVoice transcribes audio and runs the text through the same pipeline.
func (s *Service) HandleVoice(ctx context.Context, userID string, audio []byte, mimeType string) Reply {
	if !s.Allowed(userID) {
		log := logger.FromContext(ctx)
		log.Warn().Str("user_id", userID).Msg("Rejected voice message from user outside allow-list")
		return Reply{Text: MessageAccessDenied}
	}
	log := logger.WithUser(logger.FromContext(ctx), userID)
	ctx = logger.WithContext(ctx, log)

	if s.transcriber == nil {
		return Reply{Text: MessageVoiceDisabled}
	}
	text, err := s.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		log.Error().Err(err).Msg("Failed to transcribe voice message")
		return Reply{Text: MessageVoiceFailed}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{Text: MessageVoiceFailed}
	}

	heard := fmt.Sprintf("📝 Распознал: \"%s\"\nРаспознал правильно? Если нет, перефразируй.", text)
	reply := s.handleUtterance(ctx, userID, text, fmt.Sprintf("🎤 \"%s\"", text))
	reply.Text = heard + "\n\n" + reply.Text
	return reply
}

func (s *Service) handleUtterance(ctx context.Context, userID, text, source string) Reply {
	log := logger.FromContext(ctx)

	if s.takeClear(userID) {
		if clearConfirmed(text) {
			return s.clearTable(ctx, userID)
		}
		if confirmation(text) != answerNone {
			return Reply{Text: MessageCancelled}
		}
	}

	if _, ok := s.resolver.Pending(userID); ok {
		switch confirmation(text) {
		case answerYes:
			return s.renderOutcome(ctx, userID, s.resolver.Confirm(ctx, userID), source)
		case answerNo:
			s.resolver.Reject(userID)
			return Reply{Text: MessageCancelled}
		}
	}

	out := s.resolver.Resolve(ctx, userID, text)
	log.Debug().Str("state", string(out.Final())).Msg("Utterance resolved")
	return s.renderOutcome(ctx, userID, out, source)
}

func (s *Service) renderOutcome(ctx context.Context, userID string, out intent.Outcome, source string) Reply {
	switch out.Final() {
	case intent.StateCommitted:
		return Reply{Text: renderCommitted("Финансовая операция записана", out.Record, source)}
	case intent.StateAwaitingConfirmation:
		c, _ := out.Intent.(intent.FinanceCandidate)
		return Reply{Text: renderConfirmation(c, source)}
	case intent.StateClarification:
		c, _ := out.Intent.(intent.Clarification)
		return Reply{Text: renderClarification(c)}
	case intent.StateCommandDispatch:
		vc, _ := out.Intent.(intent.VoiceCommand)
		return s.dispatch(ctx, userID, vc)
	case intent.StateFailed:
		if errors.Is(out.Err, intent.ErrNothingPending) {
			return Reply{Text: MessageCancelled}
		}
		return Reply{Text: MessageCommitFailed}
	}
	return Reply{Text: MessageGenericFailure}
}

// dispatch runs a router command with parameters pulled from its text.
func (s *Service) dispatch(ctx context.Context, userID string, vc intent.VoiceCommand) Reply {
	p := s.extractor.Extract(vc.RawParams, vc.Command)
	log := logger.FromContext(ctx)
	log.Info().Str("command", string(vc.Command)).Str("name", p.Name).
		Str("period", p.Period.String()).Msg("Dispatching command")

	filter := analytics.Filter{Name: p.Name}
	if p.Period.Kind != params.PeriodDefault {
		w := s.engine.Window(p.Period)
		filter.Window = &w
	}

	switch vc.Command {
	case router.CommandAnalytics:
		return s.Analytics(ctx, userID, p.Period)
	case router.CommandSearch:
		query := p.Name
		if query == "" {
			query = p.Query
		}
		return s.Search(ctx, userID, query)
	case router.CommandHistory:
		return s.History(ctx, userID)
	case router.CommandBackup:
		return s.Backup(ctx, userID)
	case router.CommandRecipients:
		return s.breakdown(ctx, func(snap *ledger.Snapshot) string {
			return renderNamedTotals("👥 **Топ получателей:**", "👥 Нет данных о получателях.", s.engine.Recipients(ctx, snap, filter))
		})
	case router.CommandSuppliers:
		return s.breakdown(ctx, func(snap *ledger.Snapshot) string {
			return renderNamedTotals("🏭 **Топ поставщиков:**", "🏭 Нет данных о поставщиках.", s.engine.Suppliers(ctx, snap, filter))
		})
	case router.CommandCategories:
		return s.breakdown(ctx, func(snap *ledger.Snapshot) string {
			return renderCategories(s.engine.Categories(ctx, snap, filter))
		})
	}
	return Reply{Text: MessageUnknownCommand}
}

func (s *Service) breakdown(ctx context.Context, render func(*ledger.Snapshot) string) Reply {
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to load ledger snapshot")
		return Reply{Text: MessageAnalysisFailed}
	}
	return Reply{Text: render(snap)}
}

// Analytics renders the summary report for period.
func (s *Service) Analytics(ctx context.Context, userID string, period params.Period) Reply {
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to load ledger snapshot")
		return Reply{Text: "❌ Ошибка при создании аналитики."}
	}
	return Reply{Text: renderSummary(s.engine.Summarize(ctx, snap, period))}
}

// Search renders matches for query; an empty query returns the usage text.
func (s *Service) Search(ctx context.Context, userID, query string) Reply {
	query = strings.TrimSpace(query)
	if query == "" {
		return Reply{Text: searchHelpText}
	}
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to load ledger snapshot")
		return Reply{Text: MessageSearchFailed}
	}
	res, err := s.engine.Search(ctx, snap, strings.ToLower(query))
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("query", query).Msg("Search rejected")
		return Reply{Text: fmt.Sprintf("❌ По запросу '%s' ничего не найдено.", strings.ToLower(query))}
	}
	return Reply{Text: renderSearch(res)}
}

// History renders the user's context and the latest ledger rows.
func (s *Service) History(ctx context.Context, userID string) Reply {
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to load ledger snapshot")
		return Reply{Text: MessageHistoryFailed}
	}
	latest := analytics.Latest(s.engine.Records(ctx, snap), 3)
	return Reply{Text: renderHistory(s.contexts.Get(userID), latest)}
}

// Backup exports the ledger and attaches the document.
func (s *Service) Backup(ctx context.Context, userID string) Reply {
	b, stored, err := s.backups.Create(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to create backup")
		return Reply{Text: MessageBackupFailed}
	}
	return Reply{
		Text:       renderBackupCaption(b, stored),
		Attachment: &Attachment{Name: b.Name, MIMEType: "application/json", Data: b.Data},
	}
}

// RequestClear arms the clear-table confirmation for the user.
func (s *Service) RequestClear(userID string) Reply {
	s.mu.Lock()
	s.pendingClear[userID] = true
	s.mu.Unlock()
	return Reply{Text: MessageClearWarning}
}

func (s *Service) clearTable(ctx context.Context, userID string) Reply {
	n, err := s.mutator.Clear(ctx, userID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to clear ledger")
		return Reply{Text: MessageClearFailed}
	}
	log := logger.FromContext(ctx)
	log.Warn().Int("rows", n).Msg("Ledger cleared")
	return Reply{Text: MessageTableCleared}
}

func (s *Service) clearArmed(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingClear[userID]
}

// takeClear disarms and reports the clear-table confirmation. Any message
// after /clear_table consumes it, so only an immediate "да" clears.
func (s *Service) takeClear(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	armed := s.pendingClear[userID]
	delete(s.pendingClear, userID)
	return armed
}

// DeleteLast removes the user's last committed operation.
func (s *Service) DeleteLast(ctx context.Context, userID string) Reply {
	last, ok := s.mutator.LastOperation(userID)
	if !ok {
		return Reply{Text: MessageNoLast}
	}
	if err := s.mutator.Delete(ctx, userID, last.RowIndex); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Int("row_index", last.RowIndex).Msg("Failed to delete last operation")
		return Reply{Text: MessageDeleteFailed}
	}
	return Reply{Text: MessageDeletedLast}
}

// EditLast rewrites the user's last committed operation. "сумма N" changes
// only the amount; any other text is classified as a full replacement.
func (s *Service) EditLast(ctx context.Context, userID, text string) Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{Text: MessageEditHelp}
	}
	last, ok := s.mutator.LastOperation(userID)
	if !ok {
		return Reply{Text: MessageNoLast}
	}

	rec, reply, ok := s.editedRecord(ctx, userID, last.Record, text)
	if !ok {
		return reply
	}
	rec.Date = last.Record.Date

	updated, err := s.mutator.Edit(ctx, userID, last.RowIndex, rec)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Int("row_index", last.RowIndex).Msg("Failed to edit last operation")
		return Reply{Text: MessageEditFailed}
	}
	return Reply{Text: renderCommitted("Операция изменена", updated, "")}
}

func (s *Service) editedRecord(ctx context.Context, userID string, prev domain.TransactionRecord, text string) (domain.TransactionRecord, Reply, bool) {
	if amount, ok := amountEdit(text); ok {
		rec := prev
		rec.Amount = amount.Abs()
		if rec.OperationType == domain.Outflow {
			rec.Amount = rec.Amount.Neg()
		}
		return rec, Reply{}, true
	}

	switch in := s.classifier.Classify(ctx, text, s.contexts.Get(userID)).(type) {
	case intent.FinanceCandidate:
		return in.Record(), Reply{}, true
	case intent.Clarification:
		return domain.TransactionRecord{}, Reply{Text: renderClarification(in)}, false
	}
	return domain.TransactionRecord{}, Reply{Text: MessageEditHelp}, false
}
