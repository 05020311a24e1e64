package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"checkoutpay/internal/common/api"
)

// ChecksumHeader carries the event checksum.
const ChecksumHeader = "X-Event-Checksum"

// Handler is the HTTP endpoint for gateway notifications.
type Handler struct {
	processor    *Processor
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler creates a new webhook HTTP handler
func NewHandler(processor *Processor, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Handler{
		processor:    processor,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

type ackResponse struct {
	Status  string  `json:"status"`
	Outcome Outcome `json:"outcome"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		api.WriteError(w, http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
		return
	}

	// The body is kept as raw bytes; the checksum is computed over them.
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, api.ErrCodeBadRequest, "Payload too large")
			return
		}
		api.BadRequest(w, "Unable to read body")
		return
	}

	result, err := h.processor.Process(r.Context(), raw, r.Header.Get(ChecksumHeader))
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, ackResponse{Status: "ok", Outcome: result.Outcome})
	case errors.Is(err, ErrInvalidPayload):
		api.BadRequest(w, err.Error())
	case IsSignatureError(err):
		api.Unauthorized(w, "Invalid signature")
	default:
		h.logger.Error("webhook processing failed", "error", err)
		api.InternalError(w, "Failed to process webhook")
	}
}
