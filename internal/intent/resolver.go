package intent

import (
	"context"
	"errors"
	"sync"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/router"
)

// State is a step of utterance resolution.
type State string

const (
	StateReceived             State = "received"
	StateRouterChecked        State = "router_checked"
	StateCommandDispatch      State = "command_dispatch"
	StateClassifierInvoked    State = "classifier_invoked"
	StateFinanceCandidate     State = "finance_candidate"
	StateClarification        State = "clarification"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
	StateRejected             State = "rejected"
	StateCommitted            State = "committed"
	StateFailed               State = "failed"
)

// DefaultConfidenceThreshold is the lowest confidence committed without asking.
const DefaultConfidenceThreshold = 0.7

// ErrNothingPending is returned when a confirmation arrives with no candidate held.
var ErrNothingPending = errors.New("no operation awaiting confirmation")

// IntentClassifier is implemented by Classifier.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, recent []string) Intent
}

// Committer appends a record to the ledger.
type Committer interface {
	Append(ctx context.Context, userID string, record domain.TransactionRecord) (domain.TransactionRecord, error)
}

// ContextReader supplies a user's recent context lines.
type ContextReader interface {
	Get(userID string) []string
}

// Outcome is the result of one resolution step. Path lists every state
// visited, in order; the last element is the final state.
type Outcome struct {
	Path   []State
	Intent Intent
	// Record is set when the final state is StateCommitted.
	Record domain.TransactionRecord
	// Err is set when the final state is StateFailed.
	Err error
}

// Final returns the last state of the path.
func (o Outcome) Final() State {
	if len(o.Path) == 0 {
		return ""
	}
	return o.Path[len(o.Path)-1]
}

// Resolver drives an utterance from receipt to commit, holding
// low-confidence candidates per user until they are confirmed or rejected.
type Resolver struct {
	classifier IntentClassifier
	committer  Committer
	contexts   ContextReader
	threshold  float64

	mu      sync.Mutex
	pending map[string]FinanceCandidate
}

// NewResolver creates a resolver with DefaultConfidenceThreshold.
func NewResolver(classifier IntentClassifier, committer Committer, contexts ContextReader) *Resolver {
	return &Resolver{
		classifier: classifier,
		committer:  committer,
		contexts:   contexts,
		threshold:  DefaultConfidenceThreshold,
		pending:    make(map[string]FinanceCandidate),
	}
}

// Resolve handles a new utterance. Any candidate still awaiting
// confirmation for the user is discarded.
func (r *Resolver) Resolve(ctx context.Context, userID, text string) Outcome {
	r.dropPending(userID)

	out := Outcome{Path: []State{StateReceived}}

	cmd, matched := router.Match(text)
	out.Path = append(out.Path, StateRouterChecked)
	if matched {
		out.Path = append(out.Path, StateCommandDispatch)
		out.Intent = VoiceCommand{Command: cmd, RawParams: text}
		return out
	}

	out.Path = append(out.Path, StateClassifierInvoked)
	out.Intent = r.classifier.Classify(ctx, text, r.contexts.Get(userID))

	switch in := out.Intent.(type) {
	case VoiceCommand:
		out.Path = append(out.Path, StateCommandDispatch)
	case Clarification:
		out.Path = append(out.Path, StateClarification)
	case FinanceCandidate:
		out.Path = append(out.Path, StateFinanceCandidate)
		if in.Confidence >= r.threshold {
			return r.commit(ctx, userID, in, out)
		}
		r.mu.Lock()
		r.pending[userID] = in
		r.mu.Unlock()
		out.Path = append(out.Path, StateAwaitingConfirmation)
	}
	return out
}

// Confirm commits the user's pending candidate.
func (r *Resolver) Confirm(ctx context.Context, userID string) Outcome {
	candidate, ok := r.takePending(userID)
	if !ok {
		return Outcome{Path: []State{StateFailed}, Err: ErrNothingPending}
	}
	out := Outcome{
		Path:   []State{StateAwaitingConfirmation, StateConfirmed},
		Intent: candidate,
	}
	return r.commit(ctx, userID, candidate, out)
}

// Reject discards the user's pending candidate.
func (r *Resolver) Reject(userID string) Outcome {
	candidate, ok := r.takePending(userID)
	if !ok {
		return Outcome{Path: []State{StateFailed}, Err: ErrNothingPending}
	}
	return Outcome{
		Path:   []State{StateAwaitingConfirmation, StateRejected},
		Intent: candidate,
	}
}

// Pending returns the candidate awaiting the user's confirmation, if any.
func (r *Resolver) Pending(userID string) (FinanceCandidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[userID]
	return c, ok
}

func (r *Resolver) commit(ctx context.Context, userID string, c FinanceCandidate, out Outcome) Outcome {
	rec, err := r.committer.Append(ctx, userID, c.Record())
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to commit operation")
		out.Path = append(out.Path, StateFailed)
		out.Err = err
		return out
	}
	out.Path = append(out.Path, StateCommitted)
	out.Record = rec
	return out
}

func (r *Resolver) takePending(userID string) (FinanceCandidate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[userID]
	delete(r.pending, userID)
	return c, ok
}

func (r *Resolver) dropPending(userID string) {
	r.mu.Lock()
	delete(r.pending, userID)
	r.mu.Unlock()
}
