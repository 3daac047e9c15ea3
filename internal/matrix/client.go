// Package matrix is the Matrix chat transport: it turns room messages into
// inbound jobs and sends rendered replies back.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-assistant/internal/bot"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"
)

const (
	syncBackoffMin = 2 * time.Second
	syncBackoffMax = 5 * time.Minute
	typingTimeout  = 30 * time.Second
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// SyncFile persists the sync token. Empty keeps it in memory.
	SyncFile string
}

// Message is an inbound room message the bot should answer.
type Message struct {
	RoomID   string
	Sender   string
	EventID  string
	Kind     jobs.Kind
	Text     string
	MediaURL string
	MIMEType string
}

// Job converts the message into a queue job.
func (m Message) Job() *jobs.MessageJob {
	return &jobs.MessageJob{
		UserID:    m.Sender,
		RoomID:    m.RoomID,
		Kind:      m.Kind,
		Text:      m.Text,
		MediaURL:  m.MediaURL,
		AudioMIME: m.MIMEType,
	}
}

// MessageHandler receives inbound messages. It runs on the sync goroutine
// and must not block.
type MessageHandler func(ctx context.Context, msg Message)

// Client wraps the mautrix client.
type Client struct {
	client  *mautrix.Client
	userID  id.UserID
	started time.Time
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a client. Credentials are not checked until Start.
func New(cfg Config) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("New: homeserver, user ID and access token are required: %w", domain.ErrConfiguration)
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w: %w", domain.ErrConfiguration, err)
	}
	if cfg.SyncFile != "" {
		store, err := NewFileSyncStore(cfg.SyncFile)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		client.Store = store
	}
	return &Client{
		client: client,
		userID: id.UserID(cfg.UserID),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Whoami checks the access token against the homeserver.
func (c *Client) Whoami(ctx context.Context) error {
	resp, err := c.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("Whoami: %w: %w", domain.ErrExternalService, err)
	}
	if resp.UserID != c.userID {
		return fmt.Errorf("Whoami: token belongs to %s, not %s: %w", resp.UserID, c.userID, domain.ErrConfiguration)
	}
	return nil
}

// Start registers handlers and syncs in the background until Stop. Invites
// are accepted when acceptInvite approves the inviter.
func (c *Client) Start(ctx context.Context, handler MessageHandler, acceptInvite func(sender string) bool) error {
	c.started = time.Now()
	log := logger.FromContext(ctx)

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("Start: unexpected syncer %T: %w", c.client.Syncer, domain.ErrConfiguration)
	}
	syncer.OnEventType(event.EventMessage, func(evCtx context.Context, evt *event.Event) {
		msg, ok := MessageFromEvent(evt, c.userID, c.started)
		if !ok {
			return
		}
		handler(logger.WithContext(evCtx, log), msg)
	})
	syncer.OnEventType(event.StateMember, func(evCtx context.Context, evt *event.Event) {
		if !isInviteFor(evt, c.userID) || !acceptInvite(evt.Sender.String()) {
			return
		}
		if _, err := c.client.JoinRoomByID(evCtx, evt.RoomID); err != nil && !errors.Is(err, mautrix.MForbidden) {
			log.Warn().Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to join room")
			return
		}
		log.Info().Str("room_id", evt.RoomID.String()).Str("inviter", evt.Sender.String()).Msg("Joined room")
	})

	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	defer close(c.done)
	log := logger.FromContext(ctx)

	backoff := syncBackoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err == nil {
			return
		}
		log.Error().Err(err).Dur("backoff", backoff).Msg("Matrix sync stopped, reconnecting")
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > syncBackoffMax {
			backoff = syncBackoffMax
		}
	}
}

// Stop ends syncing and waits for the sync loop to exit.
func (c *Client) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
	}
	close(c.stopCh)
	if c.started.IsZero() {
		return
	}
	c.client.StopSync()
	<-c.done
}

// Download fetches an mxc:// media URL.
func (c *Client) Download(ctx context.Context, mxc string) ([]byte, error) {
	uri, err := id.ContentURIString(mxc).Parse()
	if err != nil {
		return nil, fmt.Errorf("Download: %q: %w", mxc, domain.ErrValidation)
	}
	data, err := c.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("Download: %w: %w", domain.ErrExternalService, err)
	}
	return data, nil
}

// Send delivers reply to roomID: the text as Markdown, then the attachment
// as a file message when present.
func (c *Client) Send(ctx context.Context, roomID string, reply bot.Reply) error {
	room := id.RoomID(roomID)

	if reply.Text != "" {
		content := format.RenderMarkdown(reply.Text, true, false)
		if _, err := c.client.SendMessageEvent(ctx, room, event.EventMessage, &content); err != nil {
			return fmt.Errorf("Send: text: %w: %w", domain.ErrExternalService, err)
		}
	}

	if att := reply.Attachment; att != nil {
		upload, err := c.client.UploadBytes(ctx, att.Data, att.MIMEType)
		if err != nil {
			return fmt.Errorf("Send: uploading %s: %w: %w", att.Name, domain.ErrExternalService, err)
		}
		content := event.MessageEventContent{
			MsgType:  event.MsgFile,
			Body:     att.Name,
			FileName: att.Name,
			URL:      upload.ContentURI.CUString(),
			Info:     &event.FileInfo{MimeType: att.MIMEType, Size: len(att.Data)},
		}
		if _, err := c.client.SendMessageEvent(ctx, room, event.EventMessage, &content); err != nil {
			return fmt.Errorf("Send: file: %w: %w", domain.ErrExternalService, err)
		}
	}
	return nil
}

// SetTyping toggles the typing indicator; failures are only logged.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool) {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, typingTimeout); err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Str("room_id", roomID).Msg("Failed to set typing")
	}
}

// MessageFromEvent extracts a text or voice message from evt. Own messages,
// events older than since, encrypted media and other message types are
// skipped.
func MessageFromEvent(evt *event.Event, self id.UserID, since time.Time) (Message, bool) {
	if evt == nil || evt.Sender == self {
		return Message{}, false
	}
	if !since.IsZero() && time.UnixMilli(evt.Timestamp).Before(since) {
		return Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return Message{}, false
	}

	msg := Message{
		RoomID:  evt.RoomID.String(),
		Sender:  evt.Sender.String(),
		EventID: evt.ID.String(),
	}
	switch content.MsgType {
	case event.MsgText:
		msg.Kind = jobs.KindText
		msg.Text = content.Body
		return msg, msg.Text != ""
	case event.MsgAudio:
		if content.URL == "" {
			return Message{}, false
		}
		msg.Kind = jobs.KindVoice
		msg.MediaURL = string(content.URL)
		msg.MIMEType = "audio/ogg"
		if content.Info != nil && content.Info.MimeType != "" {
			msg.MIMEType = content.Info.MimeType
		}
		return msg, true
	}
	return Message{}, false
}

func isInviteFor(evt *event.Event, self id.UserID) bool {
	if evt.GetStateKey() != self.String() {
		return false
	}
	member := evt.Content.AsMember()
	return member != nil && member.Membership == event.MembershipInvite
}
