package matrix

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const self = id.UserID("@finbot:example.org")

func messageEvent(sender id.UserID, ts time.Time, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		Type:      event.EventMessage,
		Sender:    sender,
		RoomID:    "!room:example.org",
		ID:        "$ev1",
		Timestamp: ts.UnixMilli(),
		Content:   event.Content{Parsed: content},
	}
}

func TestMessageFromEvent(t *testing.T) {
	since := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	later := since.Add(time.Minute)

	tests := []struct {
		name     string
		evt      *event.Event
		wantOK   bool
		wantKind jobs.Kind
		wantText string
		wantURL  string
		wantMIME string
	}{
		{
			name:     "text",
			evt:      messageEvent("@anna:example.org", later, &event.MessageEventContent{MsgType: event.MsgText, Body: "дал Тане лично 30000"}),
			wantOK:   true,
			wantKind: jobs.KindText,
			wantText: "дал Тане лично 30000",
		},
		{
			name: "voice with mime type",
			evt: messageEvent("@anna:example.org", later, &event.MessageEventContent{
				MsgType: event.MsgAudio,
				URL:     "mxc://example.org/abc",
				Info:    &event.FileInfo{MimeType: "audio/mp4"},
			}),
			wantOK:   true,
			wantKind: jobs.KindVoice,
			wantURL:  "mxc://example.org/abc",
			wantMIME: "audio/mp4",
		},
		{
			name:     "voice defaults to ogg",
			evt:      messageEvent("@anna:example.org", later, &event.MessageEventContent{MsgType: event.MsgAudio, URL: "mxc://example.org/abc"}),
			wantOK:   true,
			wantKind: jobs.KindVoice,
			wantURL:  "mxc://example.org/abc",
			wantMIME: "audio/ogg",
		},
		{
			name:   "own message",
			evt:    messageEvent(self, later, &event.MessageEventContent{MsgType: event.MsgText, Body: "✅"}),
			wantOK: false,
		},
		{
			name:   "history before start",
			evt:    messageEvent("@anna:example.org", since.Add(-time.Hour), &event.MessageEventContent{MsgType: event.MsgText, Body: "старое"}),
			wantOK: false,
		},
		{
			name:   "encrypted audio without url",
			evt:    messageEvent("@anna:example.org", later, &event.MessageEventContent{MsgType: event.MsgAudio}),
			wantOK: false,
		},
		{
			name:   "image",
			evt:    messageEvent("@anna:example.org", later, &event.MessageEventContent{MsgType: event.MsgImage, URL: "mxc://example.org/img"}),
			wantOK: false,
		},
		{
			name:   "empty text",
			evt:    messageEvent("@anna:example.org", later, &event.MessageEventContent{MsgType: event.MsgText}),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := MessageFromEvent(tt.evt, self, since)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if msg.Kind != tt.wantKind || msg.Text != tt.wantText || msg.MediaURL != tt.wantURL || msg.MIMEType != tt.wantMIME {
				t.Errorf("msg = %+v", msg)
			}
			if msg.RoomID != "!room:example.org" || msg.Sender != "@anna:example.org" {
				t.Errorf("msg routing = %+v", msg)
			}
		})
	}
}

func TestMessage_Job(t *testing.T) {
	msg := Message{RoomID: "!r:x", Sender: "@anna:x", Kind: jobs.KindVoice, MediaURL: "mxc://x/a", MIMEType: "audio/ogg"}
	job := msg.Job()
	if job.UserID != "@anna:x" || job.RoomID != "!r:x" || job.Kind != jobs.KindVoice || job.MediaURL != "mxc://x/a" || job.AudioMIME != "audio/ogg" {
		t.Errorf("Job() = %+v", job)
	}
}

func TestIsInviteFor(t *testing.T) {
	key := self.String()
	other := "@someone:example.org"
	invite := &event.Event{
		Type:     event.StateMember,
		StateKey: &key,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
	}
	if !isInviteFor(invite, self) {
		t.Error("expected invite for self")
	}

	forOther := &event.Event{
		Type:     event.StateMember,
		StateKey: &other,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
	}
	if isInviteFor(forOther, self) {
		t.Error("invite for another user accepted")
	}

	join := &event.Event{
		Type:     event.StateMember,
		StateKey: &key,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipJoin}},
	}
	if isInviteFor(join, self) {
		t.Error("join treated as invite")
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Homeserver: "https://matrix.example.org"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestFileSyncStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "matrix_sync.json")

	s, err := NewFileSyncStore(path)
	if err != nil {
		t.Fatalf("NewFileSyncStore() error: %v", err)
	}
	if batch, _ := s.LoadNextBatch(ctx, self); batch != "" {
		t.Errorf("LoadNextBatch() on empty store = %q", batch)
	}
	if err := s.SaveFilterID(ctx, self, "f1"); err != nil {
		t.Fatalf("SaveFilterID() error: %v", err)
	}
	if err := s.SaveNextBatch(ctx, self, "s42_1"); err != nil {
		t.Fatalf("SaveNextBatch() error: %v", err)
	}

	reloaded, err := NewFileSyncStore(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if f, _ := reloaded.LoadFilterID(ctx, self); f != "f1" {
		t.Errorf("LoadFilterID() = %q, want f1", f)
	}
	if b, _ := reloaded.LoadNextBatch(ctx, self); b != "s42_1" {
		t.Errorf("LoadNextBatch() = %q, want s42_1", b)
	}
}
