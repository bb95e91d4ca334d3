package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/libresocial/engine/internal/availability/domain"
	"github.com/libresocial/engine/internal/availability/service"
	apperrors "github.com/libresocial/engine/internal/errors"
	"github.com/libresocial/engine/internal/notify"
	notifystorage "github.com/libresocial/engine/internal/notify/storage"
)

// Engine is the slice of the availability service the handlers call.
type Engine interface {
	GetStatus(ctx context.Context, userID string) (domain.UserStatus, error)
	Describe(ctx context.Context, subjectID, viewerID string) (service.Availability, error)
	SendInvitation(ctx context.Context, input service.SendInvitationInput) (service.SendInvitationResult, error)
	RespondToInvitation(ctx context.Context, invitationID, userID string, response service.Response) (domain.Invitation, error)
	CancelInvitation(ctx context.Context, invitationID, byUser string) error
	GetInvitation(ctx context.Context, invitationID string) (domain.Invitation, error)
	ListInvitations(ctx context.Context, userID string) ([]domain.Invitation, error)
	StartAvailability(ctx context.Context, input service.StartAvailabilityInput) (domain.AvailabilitySession, error)
	StopAvailability(ctx context.Context, sessionID, byUser string) error
	GetAvailability(ctx context.Context, userID string) (domain.AvailabilitySession, error)
}

// InboxReader is the slice of the notification inbox the handlers call.
type InboxReader interface {
	List(ctx context.Context, userID string, limit int) ([]notify.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) (notify.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

// Handler serves the availability endpoints.
type Handler struct {
	engine Engine
	inbox  InboxReader
}

// NewHandler builds a Handler. The inbox may be nil when the deployment runs
// without a persisted inbox; its endpoints then answer 404.
func NewHandler(engine Engine, inbox InboxReader) *Handler {
	return &Handler{engine: engine, inbox: inbox}
}

type statusView struct {
	UserID               string    `json:"user_id"`
	Status               string    `json:"status"`
	CurrentEngagementID  string    `json:"current_engagement_id,omitempty"`
	PendingInvitationIDs []string  `json:"pending_invitation_ids,omitempty"`
	LastTransitionAt     time.Time `json:"last_transition_at"`
}

type invitationView struct {
	ID            string          `json:"id"`
	FromUser      string          `json:"from_user"`
	Recipients    []string        `json:"recipients"`
	Activity      string          `json:"activity,omitempty"`
	Location      json.RawMessage `json:"location,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Status        string          `json:"status"`
	Resolution    string          `json:"resolution"`
	AcceptedBy    []string        `json:"accepted_by,omitempty"`
	DeclinedBy    []string        `json:"declined_by,omitempty"`
	ConflictsWith []string        `json:"conflicts_with,omitempty"`
	CancelledBy   string          `json:"cancelled_by,omitempty"`
}

type sessionView struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Activity   string          `json:"activity,omitempty"`
	Location   json.RawMessage `json:"location,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Active     bool            `json:"active"`
	SharedWith []string        `json:"shared_with,omitempty"`
}

type availabilityView struct {
	Label       string         `json:"label"`
	IsInvitable bool           `json:"is_invitable"`
	ReasonCode  apperrors.Code `json:"reason_code,omitempty"`
}

type blockedView struct {
	UserID string         `json:"user_id"`
	Reason apperrors.Code `json:"reason"`
}

type notificationView struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
}

func toStatusView(record domain.UserStatus) statusView {
	return statusView{
		UserID:               record.UserID,
		Status:               domain.StatusLabel(record.Status),
		CurrentEngagementID:  record.CurrentEngagementID,
		PendingInvitationIDs: record.PendingInvitationIDs,
		LastTransitionAt:     record.LastTransitionAt,
	}
}

func toInvitationView(inv domain.Invitation) invitationView {
	return invitationView{
		ID:            inv.ID,
		FromUser:      inv.FromUser,
		Recipients:    inv.Recipients,
		Activity:      inv.Activity,
		Location:      inv.Location,
		CreatedAt:     inv.CreatedAt,
		ExpiresAt:     inv.ExpiresAt,
		Status:        domain.InvitationStatusLabel(inv.Status),
		Resolution:    string(inv.Resolution()),
		AcceptedBy:    inv.AcceptedBy,
		DeclinedBy:    inv.DeclinedBy,
		ConflictsWith: inv.ConflictsWith,
		CancelledBy:   inv.CancelledBy,
	}
}

func toSessionView(session domain.AvailabilitySession) sessionView {
	return sessionView{
		ID:         session.ID,
		UserID:     session.UserID,
		Activity:   session.Activity,
		Location:   session.Location,
		StartedAt:  session.StartedAt,
		ExpiresAt:  session.ExpiresAt,
		Active:     session.Active,
		SharedWith: session.SharedWith,
	}
}

func toNotificationView(notification notify.Notification) notificationView {
	return notificationView{
		ID:        notification.ID,
		Kind:      notification.Kind,
		Payload:   notification.Payload,
		CreatedAt: notification.CreatedAt,
		ReadAt:    notification.ReadAt,
	}
}

// GetStatus answers GET /v1/status with the acting user's engagement record.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	record, err := h.engine.GetStatus(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusView(record))
}

// DescribeAvailability answers GET /v1/users/{userID}/availability with the
// viewer-specific availability of the subject.
func (h *Handler) DescribeAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	subject := chi.URLParam(r, "userID")
	answer, err := h.engine.Describe(r.Context(), subject, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityView{
		Label:       answer.Label,
		IsInvitable: answer.IsInvitable,
		ReasonCode:  answer.ReasonCode,
	})
}

type sendInvitationRequest struct {
	Recipients []string        `json:"recipients"`
	Activity   string          `json:"activity"`
	Location   json.RawMessage `json:"location"`
	TTLSeconds int             `json:"ttl_seconds"`
}

type sendInvitationResponse struct {
	Invitation invitationView `json:"invitation"`
	Recipients []string       `json:"recipients"`
	Blocked    []blockedView  `json:"blocked,omitempty"`
}

// SendInvitation answers POST /v1/invitations.
func (h *Handler) SendInvitation(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	var req sendInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidArgument(w, "invalid request body")
		return
	}
	result, err := h.engine.SendInvitation(r.Context(), service.SendInvitationInput{
		FromUser:   actor,
		Recipients: req.Recipients,
		Activity:   req.Activity,
		Location:   req.Location,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	blocked := make([]blockedView, 0, len(result.Blocked))
	for _, item := range result.Blocked {
		blocked = append(blocked, blockedView{UserID: item.UserID, Reason: item.Reason})
	}
	writeJSON(w, http.StatusCreated, sendInvitationResponse{
		Invitation: toInvitationView(result.Invitation),
		Recipients: result.Accepted,
		Blocked:    blocked,
	})
}

// ListInvitations answers GET /v1/invitations with the acting user's
// invitations, newest first.
func (h *Handler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	invitations, err := h.engine.ListInvitations(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]invitationView, 0, len(invitations))
	for _, inv := range invitations {
		views = append(views, toInvitationView(inv))
	}
	writeJSON(w, http.StatusOK, map[string][]invitationView{"invitations": views})
}

// GetInvitation answers GET /v1/invitations/{invitationID}. Only parties to
// the invitation can read it; everyone else sees not found.
func (h *Handler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	invitation, err := h.engine.GetInvitation(r.Context(), chi.URLParam(r, "invitationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !invitationParty(invitation, actor) {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "invitation not found"))
		return
	}
	writeJSON(w, http.StatusOK, toInvitationView(invitation))
}

func invitationParty(inv domain.Invitation, userID string) bool {
	if inv.FromUser == userID {
		return true
	}
	for _, recipient := range inv.Recipients {
		if recipient == userID {
			return true
		}
	}
	return false
}

type respondRequest struct {
	Response string `json:"response"`
}

// RespondToInvitation answers POST /v1/invitations/{invitationID}/respond.
func (h *Handler) RespondToInvitation(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidArgument(w, "invalid request body")
		return
	}
	response := service.ResponseFromLabel(req.Response)
	if response == service.ResponseUnspecified {
		writeInvalidArgument(w, "response must be accept or decline")
		return
	}
	invitation, err := h.engine.RespondToInvitation(r.Context(), chi.URLParam(r, "invitationID"), actor, response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvitationView(invitation))
}

// CancelInvitation answers POST /v1/invitations/{invitationID}/cancel.
func (h *Handler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	invitationID := chi.URLParam(r, "invitationID")
	if err := h.engine.CancelInvitation(r.Context(), invitationID, actor); err != nil {
		writeError(w, err)
		return
	}
	invitation, err := h.engine.GetInvitation(r.Context(), invitationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvitationView(invitation))
}

type startAvailabilityRequest struct {
	Activity   string          `json:"activity"`
	Location   json.RawMessage `json:"location"`
	SharedWith []string        `json:"shared_with"`
	TTLSeconds int             `json:"ttl_seconds"`
}

// StartAvailability answers POST /v1/sessions.
func (h *Handler) StartAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	var req startAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidArgument(w, "invalid request body")
		return
	}
	session, err := h.engine.StartAvailability(r.Context(), service.StartAvailabilityInput{
		UserID:     actor,
		Activity:   req.Activity,
		Location:   req.Location,
		SharedWith: req.SharedWith,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionView(session))
}

// GetCurrentSession answers GET /v1/sessions/current with the acting user's
// active broadcast.
func (h *Handler) GetCurrentSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	session, err := h.engine.GetAvailability(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(session))
}

// StopAvailability answers POST /v1/sessions/{sessionID}/stop.
func (h *Handler) StopAvailability(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	if err := h.engine.StopAvailability(r.Context(), chi.URLParam(r, "sessionID"), actor); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

// ListNotifications answers GET /v1/notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	if h.inbox == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "inbox is not enabled"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeInvalidArgument(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	notifications, err := h.inbox.List(r.Context(), actor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]notificationView, 0, len(notifications))
	for _, notification := range notifications {
		views = append(views, toNotificationView(notification))
	}
	writeJSON(w, http.StatusOK, map[string][]notificationView{"notifications": views})
}

// MarkNotificationRead answers POST /v1/notifications/{notificationID}/read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	if h.inbox == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "inbox is not enabled"))
		return
	}
	notification, err := h.inbox.MarkRead(r.Context(), actor, chi.URLParam(r, "notificationID"))
	if errors.Is(err, notifystorage.ErrNotFound) {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "notification not found"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationView(notification))
}

// CountUnreadNotifications answers GET /v1/notifications/unread.
func (h *Handler) CountUnreadNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "missing acting user")
		return
	}
	if h.inbox == nil {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "inbox is not enabled"))
		return
	}
	unread, err := h.inbox.CountUnread(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": unread})
}
