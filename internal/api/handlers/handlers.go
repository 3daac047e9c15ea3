// Package handlers exposes the assistant over HTTP for integrations that do
// not speak the chat protocol.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-assistant/internal/api/middleware"
	"github.com/dvloznov/finance-assistant/internal/bot"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/rs/zerolog"
)

// MaxAudioBytes caps voice uploads.
const MaxAudioBytes = 10 << 20

// MessageService handles one utterance synchronously.
type MessageService interface {
	HandleText(ctx context.Context, userID, text string) bot.Reply
	HandleVoice(ctx context.Context, userID string, audio []byte, mimeType string) bot.Reply
}

// ReplyResponse is the JSON form of a bot reply.
type ReplyResponse struct {
	Reply      string              `json:"reply"`
	Attachment *AttachmentResponse `json:"attachment,omitempty"`
}

// AttachmentResponse carries a file inline; Data is base64 in JSON.
type AttachmentResponse struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

func replyResponse(r bot.Reply) ReplyResponse {
	resp := ReplyResponse{Reply: r.Text}
	if r.Attachment != nil {
		resp.Attachment = &AttachmentResponse{
			Name:     r.Attachment.Name,
			MIMEType: r.Attachment.MIMEType,
			Data:     r.Attachment.Data,
		}
	}
	return resp
}

// MessagesHandler handles free-text and voice messages.
type MessagesHandler struct {
	svc       MessageService
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewMessagesHandler creates a new messages handler. publisher may be nil,
// which disables ?async=true.
func NewMessagesHandler(svc MessageService, publisher jobs.Publisher, log zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{
		svc:       svc,
		publisher: publisher,
		log:       log,
	}
}

// PostMessage handles POST /api/messages
//
// A JSON body {"text": "..."} is handled as a text message. An audio/* body
// is handled as a voice message. With ?async=true the message is queued and
// the response is 202 with the job ID.
func (h *MessagesHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserIDFromContext(ctx)
	async := r.URL.Query().Get("async") == "true"

	job := &jobs.MessageJob{UserID: userID}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "audio/") {
		audio, err := io.ReadAll(io.LimitReader(r.Body, MaxAudioBytes+1))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Failed to read audio")
			return
		}
		if len(audio) == 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Audio body is empty")
			return
		}
		if len(audio) > MaxAudioBytes {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Audio is too large")
			return
		}
		job.Kind = jobs.KindVoice
		job.Audio = audio
		job.AudioMIME = mediaType
	} else {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			middleware.WriteError(w, http.StatusBadRequest, "text is required")
			return
		}
		job.Kind = jobs.KindText
		job.Text = req.Text
	}

	if !async {
		var reply bot.Reply
		if job.Kind == jobs.KindVoice {
			reply = h.svc.HandleVoice(ctx, userID, job.Audio, job.AudioMIME)
		} else {
			reply = h.svc.HandleText(ctx, userID, job.Text)
		}
		middleware.WriteJSON(w, http.StatusOK, replyResponse(reply))
		return
	}

	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Async processing is disabled")
		return
	}
	if err := h.publisher.Publish(ctx, job); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue message")
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		middleware.WriteError(w, status, "Failed to enqueue message")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.JobID,
		"status": jobs.JobStatusPending,
	})
}

// JobsHandler handles job-related endpoints. Callers see only their own jobs.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil || job.UserID != middleware.UserIDFromContext(ctx) {
		if err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
			h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		}
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: middleware.UserIDFromContext(ctx),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
