package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"courier/internal/types"
)

// recipientResultResponse is the wire form of a RecipientResult.
type recipientResultResponse struct {
	NotificationID             string    `json:"notification_id"`
	RecipientID                string    `json:"recipient_id"`
	DeliveryStatus             string    `json:"delivery_status"`
	StatusCode                 int       `json:"status_code"`
	AllStatusCodes             string    `json:"all_status_codes"`
	TotalThrottleCount         int       `json:"total_throttle_count"`
	IsFromConversationCreation bool      `json:"is_from_conversation_creation"`
	ErrorMessage               string    `json:"error_message,omitempty"`
	ConversationID             string    `json:"conversation_id,omitempty"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

func toRecipientResultResponse(r *types.RecipientResult) recipientResultResponse {
	return recipientResultResponse{
		NotificationID:             r.NotificationID,
		RecipientID:                r.RecipientID,
		DeliveryStatus:             string(r.DeliveryStatus),
		StatusCode:                 r.StatusCode,
		AllStatusCodes:             r.AllStatusCodes,
		TotalThrottleCount:         r.TotalThrottleCount,
		IsFromConversationCreation: r.IsFromConversationCreation,
		ErrorMessage:               r.ErrorMessage,
		ConversationID:             r.ConversationID,
		UpdatedAt:                  r.UpdatedAt,
	}
}

// HandleResultSummary serves GET /v1/notifications/{notificationID}/results/summary.
// A notification with no recorded results yields a zero summary.
func (s *Server) HandleResultSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Results.Summarize(r.Context(), chi.URLParam(r, "notificationID"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summary})
}

// HandleRecipientResult serves GET /v1/notifications/{notificationID}/results/{recipientID}.
func (s *Server) HandleRecipientResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.Results.Get(r.Context(), chi.URLParam(r, "notificationID"), chi.URLParam(r, "recipientID"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: toRecipientResultResponse(res)})
}
