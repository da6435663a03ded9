package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"mailping/internal/domain"
	"mailping/pkg/logx"
)

type createMessageRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
}

type createMessageResponse struct {
	Message                  *domain.Message `json:"message"`
	NotificationScheduledFor string          `json:"notification_scheduled_for,omitempty"`
	JobHandle                string          `json:"job_handle,omitempty"`
}

type markReadResponse struct {
	Message               *domain.Message `json:"message"`
	NotificationCancelled bool            `json:"notification_cancelled"`
}

type createUserRequest struct {
	Email          string `json:"email"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`

	// Pointer so an explicit 0 (notify immediately) is distinguishable
	// from an omitted field, which gets the default delay.
	NotificationDelayMinutes *int `json:"notification_delay_minutes,omitempty"`
}

type setDelayRequest struct {
	NotificationDelayMinutes int `json:"notification_delay_minutes"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.api.CreateMessage(r.Context(), req.SenderID, req.RecipientID, req.Body)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	resp := createMessageResponse{Message: res.Message, JobHandle: res.JobHandle}
	if !res.FireTime.IsZero() {
		resp.NotificationScheduledFor = res.FireTime.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	res, err := s.api.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{
		Message:               res.Message,
		NotificationCancelled: res.NotificationCancelled,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.api.ListMessages(r.Context())
	if err != nil {
		s.writeAPIError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	delay := domain.DefaultNotificationDelayMinutes
	if req.NotificationDelayMinutes != nil {
		delay = *req.NotificationDelayMinutes
	}
	u := &domain.User{
		Email:                    req.Email,
		TelegramChatID:           req.TelegramChatID,
		NotificationDelayMinutes: delay,
	}
	if err := s.api.CreateUser(r.Context(), u); err != nil {
		s.writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleSetDelay(w http.ResponseWriter, r *http.Request) {
	var req setDelayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.api.SetNotificationDelay(r.Context(), r.PathValue("id"), req.NotificationDelayMinutes); err != nil {
		s.writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeAPIError maps the domain error taxonomy onto HTTP statuses:
// validation -> 400, unknown entity -> 404, everything else -> 500.
func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		s.log.Error("request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}
