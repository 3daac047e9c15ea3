package intent

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// MockClassifier is a mock implementation of IntentClassifier.
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, text string, recent []string) Intent
}

func (m *MockClassifier) Classify(ctx context.Context, text string, recent []string) Intent {
	return m.ClassifyFunc(ctx, text, recent)
}

// MockCommitter is a mock implementation of Committer.
type MockCommitter struct {
	AppendFunc func(ctx context.Context, userID string, record domain.TransactionRecord) (domain.TransactionRecord, error)
	appended   []domain.TransactionRecord
}

func (m *MockCommitter) Append(ctx context.Context, userID string, record domain.TransactionRecord) (domain.TransactionRecord, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, userID, record)
	}
	record.RowIndex = len(m.appended) + 2
	m.appended = append(m.appended, record)
	return record, nil
}

type staticContexts map[string][]string

func (s staticContexts) Get(userID string) []string { return s[userID] }

func candidate(confidence float64) FinanceCandidate {
	return FinanceCandidate{
		OperationType: domain.Outflow,
		Amount:        decimal.NewFromInt(-500),
		Category:      domain.CategoryTaxi,
		Description:   "Такси",
		Confidence:    confidence,
	}
}

func classifierReturning(in Intent) *MockClassifier {
	return &MockClassifier{ClassifyFunc: func(ctx context.Context, text string, recent []string) Intent {
		return in
	}}
}

func TestResolver_Paths(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		classified Intent
		want       []State
		commits    int
	}{
		{
			name: "router command",
			text: "аналитика за неделю",
			want: []State{StateReceived, StateRouterChecked, StateCommandDispatch},
		},
		{
			name:       "confident finance commits",
			text:       "такси 500",
			classified: candidate(0.9),
			want:       []State{StateReceived, StateRouterChecked, StateClassifierInvoked, StateFinanceCandidate, StateCommitted},
			commits:    1,
		},
		{
			name:       "threshold is inclusive",
			text:       "такси 500",
			classified: candidate(0.7),
			want:       []State{StateReceived, StateRouterChecked, StateClassifierInvoked, StateFinanceCandidate, StateCommitted},
			commits:    1,
		},
		{
			name:       "low confidence waits",
			text:       "такси вроде",
			classified: candidate(0.5),
			want:       []State{StateReceived, StateRouterChecked, StateClassifierInvoked, StateFinanceCandidate, StateAwaitingConfirmation},
		},
		{
			name:       "clarification",
			text:       "заплатил ему",
			classified: Clarification{Message: "Кому?"},
			want:       []State{StateReceived, StateRouterChecked, StateClassifierInvoked, StateClarification},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			committer := &MockCommitter{}
			r := NewResolver(classifierReturning(tt.classified), committer, staticContexts{})

			out := r.Resolve(quietContext(), "anna", tt.text)

			if !reflect.DeepEqual(out.Path, tt.want) {
				t.Errorf("Path = %v, want %v", out.Path, tt.want)
			}
			if len(committer.appended) != tt.commits {
				t.Errorf("commits = %d, want %d", len(committer.appended), tt.commits)
			}
		})
	}
}

func TestResolver_ConfirmAndReject(t *testing.T) {
	committer := &MockCommitter{}
	r := NewResolver(classifierReturning(candidate(0.4)), committer, staticContexts{})
	ctx := quietContext()

	r.Resolve(ctx, "anna", "такси вроде")
	if _, ok := r.Pending("anna"); !ok {
		t.Fatal("expected pending candidate")
	}

	out := r.Confirm(ctx, "anna")
	want := []State{StateAwaitingConfirmation, StateConfirmed, StateCommitted}
	if !reflect.DeepEqual(out.Path, want) {
		t.Errorf("Confirm path = %v, want %v", out.Path, want)
	}
	if out.Record.RowIndex != 2 || len(committer.appended) != 1 {
		t.Errorf("Record = %+v, appended = %d", out.Record, len(committer.appended))
	}
	if _, ok := r.Pending("anna"); ok {
		t.Error("pending must be consumed by Confirm")
	}

	r.Resolve(ctx, "anna", "такси вроде")
	out = r.Reject("anna")
	if out.Final() != StateRejected {
		t.Errorf("Reject final = %s", out.Final())
	}
	if len(committer.appended) != 1 {
		t.Error("Reject must not commit")
	}

	if out := r.Confirm(ctx, "anna"); !errors.Is(out.Err, ErrNothingPending) {
		t.Errorf("Confirm without pending err = %v", out.Err)
	}
}

func TestResolver_PendingIsPerUser(t *testing.T) {
	r := NewResolver(classifierReturning(candidate(0.4)), &MockCommitter{}, staticContexts{})

	r.Resolve(quietContext(), "anna", "такси вроде")

	if _, ok := r.Pending("boris"); ok {
		t.Error("boris must not see anna's candidate")
	}
	if out := r.Reject("boris"); out.Err == nil {
		t.Error("boris cannot reject anna's candidate")
	}
	if _, ok := r.Pending("anna"); !ok {
		t.Error("anna's candidate must survive")
	}
}

func TestResolver_NewMessageDropsPending(t *testing.T) {
	in := Intent(candidate(0.4))
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, text string, recent []string) Intent { return in }}
	r := NewResolver(cls, &MockCommitter{}, staticContexts{})

	r.Resolve(quietContext(), "anna", "такси вроде")
	in = Clarification{Message: "?"}
	r.Resolve(quietContext(), "anna", "что-то ещё")

	if _, ok := r.Pending("anna"); ok {
		t.Error("pending must be dropped on a new message")
	}
}

func TestResolver_CommitFailure(t *testing.T) {
	boom := errors.New("sheets down")
	committer := &MockCommitter{AppendFunc: func(ctx context.Context, userID string, record domain.TransactionRecord) (domain.TransactionRecord, error) {
		return domain.TransactionRecord{}, boom
	}}
	r := NewResolver(classifierReturning(candidate(0.9)), committer, staticContexts{})

	out := r.Resolve(quietContext(), "anna", "такси 500")

	if out.Final() != StateFailed || !errors.Is(out.Err, boom) {
		t.Errorf("outcome = %+v", out)
	}
}

func TestResolver_PassesUserContext(t *testing.T) {
	var got []string
	cls := &MockClassifier{ClassifyFunc: func(ctx context.Context, text string, recent []string) Intent {
		got = recent
		return Clarification{Message: "?"}
	}}
	r := NewResolver(cls, &MockCommitter{}, staticContexts{"anna": {"Таня: -30,000 ₽ (Выплаты учредителям)"}})

	r.Resolve(quietContext(), "anna", "столько же Игорю")

	if len(got) != 1 {
		t.Errorf("recent = %v", got)
	}
}
