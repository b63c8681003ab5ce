package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"wabridge/internal/dispatch"
	"wabridge/internal/store"
)

// maxUploadSize caps one multipart upload (matches the outbound send cap).
const maxUploadSize = 64 << 20

// Dispatcher is the outbound surface the handlers need. Satisfied by
// *dispatch.Sender.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.SendRequest) (store.Message, error)
	CreateChat(ctx context.Context, phoneNumber string) (store.Conversation, error)
}

// MediaSaver persists an uploaded file and returns its serving URL.
type MediaSaver interface {
	Save(data []byte, mimeType, fileName string) (string, error)
}

type handlers struct {
	store    *store.Store
	sender   Dispatcher
	media    MediaSaver
	validate *validator.Validate
	logger   *zap.Logger
}

// handleChats returns every known conversation keyed by phone key.
func (h *handlers) handleChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Load(r.Context()))
}

// handleCreateChat verifies the number and opens an empty conversation.
func (h *handlers) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	conv, err := h.sender.CreateChat(r.Context(), req.PhoneNumber)
	switch {
	case errors.Is(err, dispatch.ErrInvalidNumber):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrNotRegistered):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.logger.Error("create chat failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, createChatResponse{
			statusResponse: statusResponse{Success: true},
			Chat:           conv,
		})
	}
}

// handleSendMessage dispatches an outbound message.
func (h *handlers) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req dispatch.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	msg, err := h.sender.Send(r.Context(), req)
	if errors.Is(err, dispatch.ErrInvalidNumber) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("send failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{
		statusResponse: statusResponse{Success: true},
		MessageID:      msg.ID,
	})
}

// handleUploadMedia stores a multipart file and returns its URL for a later
// send-message call.
func (h *handlers) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	url, err := h.media.Save(data, contentTypeOf(header), header.Filename)
	if err != nil {
		h.logger.Error("media save failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		statusResponse: statusResponse{Success: true},
		URL:            url,
	})
}

func contentTypeOf(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Success: false, Error: msg})
}
