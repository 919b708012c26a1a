package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/app"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// ScopeSend is the token scope required to enqueue sends.
const ScopeSend = "messages:send"

// Enqueuer schedules media sends. *app.Dispatcher satisfies it.
type Enqueuer interface {
	EnqueueTemplated(ctx context.Context, templateID, messageID int64, destination coreDomain.Address) error
	EnqueueBatch(ctx context.Context, templateID int64, targets []app.SendTarget) error
}

type MessageHandler struct {
	enqueuer Enqueuer
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMessageHandler(enqueuer Enqueuer, validate *validator.Validate, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		enqueuer: enqueuer,
		validate: validate,
		logger:   logger.With("handler", "media_message"),
	}
}

// RegisterRoutes registers message routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/{messageID}/send", h.handleSend)
	r.Post("/messages/send-batch", h.handleSendBatch)
}

func (h *MessageHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)

	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || messageID < 0 {
		h.jsonError(ctx, w, logger, "messageID must be a non-negative integer", http.StatusBadRequest)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(ctx, w, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		h.jsonError(ctx, w, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	destination, err := coreDomain.ParseAddress(req.Destination)
	if err != nil {
		h.jsonError(ctx, w, logger, "Invalid destination", http.StatusBadRequest)
		return
	}

	templateID := messageID
	if req.TemplateMessageID != nil {
		templateID = *req.TemplateMessageID
	}

	if err := h.enqueuer.EnqueueTemplated(ctx, templateID, messageID, destination); err != nil {
		logger.ErrorContext(ctx, "Failed to enqueue media send", "error", err, "message_id", messageID, "template_id", templateID)
		h.enqueueError(ctx, w, logger, err)
		return
	}

	logger.InfoContext(ctx, "Media send enqueued", "message_id", messageID, "template_id", templateID)
	h.jsonResponse(w, EnqueueResponse{Status: "queued", TemplateMessageID: templateID, Jobs: 1}, http.StatusAccepted)
}

func (h *MessageHandler) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(ctx)

	var req BatchSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(ctx, w, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		h.jsonError(ctx, w, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	targets := make([]app.SendTarget, 0, len(req.Targets))
	for _, t := range req.Targets {
		destination, err := coreDomain.ParseAddress(t.Destination)
		if err != nil {
			h.jsonError(ctx, w, logger, "Invalid destination: "+t.Destination, http.StatusBadRequest)
			return
		}
		targets = append(targets, app.SendTarget{MessageID: t.MessageID, Destination: destination})
	}

	templateID := *req.TemplateMessageID
	if err := h.enqueuer.EnqueueBatch(ctx, templateID, targets); err != nil {
		logger.ErrorContext(ctx, "Failed to enqueue media batch", "error", err, "template_id", templateID)
		h.enqueueError(ctx, w, logger, err)
		return
	}

	logger.InfoContext(ctx, "Media batch enqueued", "template_id", templateID, "jobs", len(targets))
	h.jsonResponse(w, EnqueueResponse{Status: "queued", TemplateMessageID: templateID, Jobs: len(targets)}, http.StatusAccepted)
}

func (h *MessageHandler) requestLogger(ctx context.Context) *slog.Logger {
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	if caller, ok := CallerFromContext(ctx); ok {
		logger = logger.With("caller", caller.Subject)
	}
	return logger
}

func (h *MessageHandler) enqueueError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		h.jsonError(ctx, w, logger, "Template message not found", http.StatusNotFound)
		return
	}
	h.jsonError(ctx, w, logger, "Failed to enqueue message", http.StatusInternalServerError)
}

func (h *MessageHandler) jsonResponse(w http.ResponseWriter, body any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *MessageHandler) jsonError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	logger.WarnContext(ctx, "API Error Response", "status_code", statusCode, "message", message)
	writeError(w, message, statusCode)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(GenericErrorResponse{Error: message})
}
