package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vedran77/ideahub/internal/service"
	"github.com/vedran77/ideahub/internal/transport/http/middleware"
	"github.com/vedran77/ideahub/pkg/validator"
)

type MessageHandler struct {
	chat *service.ChatService
	log  *slog.Logger
}

func NewMessageHandler(chat *service.ChatService, log *slog.Logger) *MessageHandler {
	return &MessageHandler{chat: chat, log: log}
}

// List returns one page of team history, oldest first. Pass the seq of the
// oldest message seen as ?before= to page further back.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	teamID, ok := pathUUID(w, r, "id", "project")
	if !ok {
		return
	}

	q := r.URL.Query()
	before, limit, errs := validator.ParseHistoryQuery(q.Get("before"), q.Get("limit"))
	if errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	page, err := h.chat.History(r.Context(), teamID, userID, before, limit)
	if err != nil {
		writeServiceError(w, h.log, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}
