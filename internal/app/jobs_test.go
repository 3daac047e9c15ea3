package app

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dvloznov/finance-assistant/internal/bot"
	"github.com/dvloznov/finance-assistant/internal/jobs"
)

// MockProcessor is a mock implementation of Processor.
type MockProcessor struct {
	ProcessFunc func(ctx context.Context, job *jobs.MessageJob) bot.Reply
}

func (m *MockProcessor) Process(ctx context.Context, job *jobs.MessageJob) bot.Reply {
	return m.ProcessFunc(ctx, job)
}

// MockTransport is a mock implementation of Transport.
type MockTransport struct {
	DownloadFunc func(ctx context.Context, mxc string) ([]byte, error)
	SendFunc     func(ctx context.Context, roomID string, reply bot.Reply) error
	typing       []bool
}

func (m *MockTransport) Download(ctx context.Context, mxc string) ([]byte, error) {
	return m.DownloadFunc(ctx, mxc)
}

func (m *MockTransport) Send(ctx context.Context, roomID string, reply bot.Reply) error {
	return m.SendFunc(ctx, roomID, reply)
}

func (m *MockTransport) SetTyping(ctx context.Context, roomID string, typing bool) {
	m.typing = append(m.typing, typing)
}

func echoProcessor() *MockProcessor {
	return &MockProcessor{ProcessFunc: func(ctx context.Context, job *jobs.MessageJob) bot.Reply {
		text := job.Text
		if job.Kind == jobs.KindVoice {
			text = string(job.Audio)
		}
		job.Reply = "echo " + text
		return bot.Reply{Text: job.Reply}
	}}
}

func TestJobHandler_TextReplySent(t *testing.T) {
	var sentRoom, sentText string
	tr := &MockTransport{SendFunc: func(ctx context.Context, roomID string, reply bot.Reply) error {
		sentRoom, sentText = roomID, reply.Text
		return nil
	}}

	job := &jobs.MessageJob{JobID: "1", RoomID: "!room", Kind: jobs.KindText, Text: "такси 500"}
	if err := JobHandler(echoProcessor(), tr)(context.Background(), job); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if sentRoom != "!room" || sentText != "echo такси 500" {
		t.Errorf("sent %q to %q", sentText, sentRoom)
	}
	if len(tr.typing) != 2 || !tr.typing[0] || tr.typing[1] {
		t.Errorf("typing = %v, want [true false]", tr.typing)
	}
}

func TestJobHandler_VoiceDownloadedInWorker(t *testing.T) {
	var downloaded string
	tr := &MockTransport{
		DownloadFunc: func(ctx context.Context, mxc string) ([]byte, error) {
			downloaded = mxc
			return []byte("audio"), nil
		},
		SendFunc: func(ctx context.Context, roomID string, reply bot.Reply) error { return nil },
	}

	job := &jobs.MessageJob{JobID: "1", RoomID: "!room", Kind: jobs.KindVoice, MediaURL: "mxc://example.org/abc"}
	if err := JobHandler(echoProcessor(), tr)(context.Background(), job); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if downloaded != "mxc://example.org/abc" {
		t.Errorf("downloaded %q", downloaded)
	}
	if job.Reply != "echo audio" {
		t.Errorf("reply = %q", job.Reply)
	}
	if job.Audio != nil {
		t.Error("audio should be released after processing")
	}
}

func TestJobHandler_DownloadFailure(t *testing.T) {
	var sent string
	tr := &MockTransport{
		DownloadFunc: func(ctx context.Context, mxc string) ([]byte, error) { return nil, errors.New("404") },
		SendFunc: func(ctx context.Context, roomID string, reply bot.Reply) error {
			sent = reply.Text
			return nil
		},
	}
	processed := false
	p := &MockProcessor{ProcessFunc: func(ctx context.Context, job *jobs.MessageJob) bot.Reply {
		processed = true
		return bot.Reply{}
	}}

	job := &jobs.MessageJob{JobID: "1", RoomID: "!room", Kind: jobs.KindVoice, MediaURL: "mxc://example.org/abc"}
	if err := JobHandler(p, tr)(context.Background(), job); err == nil {
		t.Fatal("expected error")
	}
	if processed {
		t.Error("processor should not run without audio")
	}
	if sent != bot.MessageVoiceFailed {
		t.Errorf("sent %q, want %q", sent, bot.MessageVoiceFailed)
	}
}

func TestJobHandler_NoTransport(t *testing.T) {
	job := &jobs.MessageJob{JobID: "1", Kind: jobs.KindText, Text: "x"}
	if err := JobHandler(echoProcessor(), nil)(context.Background(), job); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if job.Reply != "echo x" {
		t.Errorf("reply = %q", job.Reply)
	}

	voice := &jobs.MessageJob{JobID: "2", Kind: jobs.KindVoice, MediaURL: "mxc://x/y"}
	if err := JobHandler(echoProcessor(), nil)(context.Background(), voice); err == nil {
		t.Error("expected error for voice job without audio or transport")
	}
}

func TestJobHandler_SendFailureFailsJob(t *testing.T) {
	tr := &MockTransport{SendFunc: func(ctx context.Context, roomID string, reply bot.Reply) error {
		return errors.New("rate limited")
	}}
	job := &jobs.MessageJob{JobID: "1", RoomID: "!room", Kind: jobs.KindText, Text: "x"}
	if err := JobHandler(echoProcessor(), tr)(context.Background(), job); err == nil {
		t.Error("expected error")
	}
}

func TestApp_CloseRunsClosersOnce(t *testing.T) {
	closed := 0
	a := &App{closers: []io.Closer{closerFunc(func() error { closed++; return nil })}}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if closed != 1 {
		t.Errorf("closers run %d times, want 1", closed)
	}
	if err := a.Close(); err != nil || closed != 1 {
		t.Errorf("second Close() = %v, closers run %d times", err, closed)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
