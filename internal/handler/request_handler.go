package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/service"
)

const defaultStatsDays = 7

type MatchEngine interface {
	SubmitRequest(ctx context.Context, in service.SubmitInput) (*service.ControllerResult, error)
	RecordResponse(ctx context.Context, notificationID string, outcome domain.Outcome, latency time.Duration) (*service.ControllerResult, error)
	RunEscalationSweep(ctx context.Context) ([]service.EscalationAction, error)
	CancelRequest(ctx context.Context, requestID string, reason string) (*domain.Request, error)
	VerifyCompletion(ctx context.Context, requestID string) (*service.ControllerResult, error)
	GetRequest(ctx context.Context, requestID string) (*domain.Request, error)
	ListNotifications(ctx context.Context, requestID string) ([]domain.Notification, error)
	EscalationStats(ctx context.Context, days int) ([]service.EscalationStat, error)
}

type RequestHandler struct {
	engine MatchEngine
}

func NewRequestHandler(engine MatchEngine) (*RequestHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("match engine is required")
	}
	return &RequestHandler{engine: engine}, nil
}

func RegisterRequestRoutes(router fiber.Router, engine MatchEngine) error {
	h, err := NewRequestHandler(engine)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/requests", h.SubmitRequest)
	v1.Get("/requests/:id", h.GetRequest)
	v1.Get("/requests/:id/notifications", h.ListNotifications)
	v1.Post("/requests/:id/cancel", h.CancelRequest)
	v1.Post("/requests/:id/verify", h.VerifyCompletion)
	v1.Post("/notifications/:id/response", h.RecordResponse)
	v1.Post("/escalations/sweep", h.RunSweep)
	v1.Get("/escalations/stats", h.EscalationStats)

	return nil
}

type submitRequestPayload struct {
	BloodType   string   `json:"bloodType" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude   *float64 `json:"longitude" validate:"required,min=-180,max=180"`
	Urgency     string   `json:"urgency" validate:"required"`
	PatientName string   `json:"patientName" validate:"required,max=200"`
	Hospital    string   `json:"hospital" validate:"required,max=200"`
	SourceText  *string  `json:"sourceText,omitempty" validate:"omitempty,max=4000"`
}

type responsePayload struct {
	Outcome        string   `json:"outcome" validate:"required"`
	LatencySeconds *float64 `json:"latencySeconds,omitempty" validate:"omitempty,min=0"`
}

type cancelPayload struct {
	Reason string `json:"reason" validate:"max=500"`
}

type controllerResultResponse struct {
	Outcome        string   `json:"outcome"`
	RequestID      string   `json:"requestId"`
	State          string   `json:"state"`
	Status         string   `json:"status"`
	Path           []string `json:"path,omitempty"`
	NotificationID string   `json:"notificationId,omitempty"`
	DonorID        string   `json:"donorId,omitempty"`
	MatchedDonorID *string  `json:"matchedDonorId,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

type requestResponse struct {
	ID             string     `json:"id"`
	BloodType      string     `json:"bloodType"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	PatientName    string     `json:"patientName"`
	Hospital       string     `json:"hospital"`
	Urgency        string     `json:"urgency"`
	State          string     `json:"state"`
	Status         string     `json:"status"`
	MatchedDonorID *string    `json:"matchedDonorId,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	EscalatedAt    *time.Time `json:"escalatedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
}

type notificationResponse struct {
	ID                     string     `json:"id"`
	RequestID              string     `json:"requestId"`
	DonorID                string     `json:"donorId"`
	Attempt                int        `json:"attempt"`
	Channel                string     `json:"channel"`
	Message                string     `json:"message"`
	State                  string     `json:"state"`
	ResponseLatencySeconds *float64   `json:"responseLatencySeconds,omitempty"`
	SendError              *string    `json:"sendError,omitempty"`
	ExpiresAt              time.Time  `json:"expiresAt"`
	RespondedAt            *time.Time `json:"respondedAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
}

type escalationActionResponse struct {
	LogID          string    `json:"logId"`
	RequestID      string    `json:"requestId"`
	Action         string    `json:"action"`
	Reason         string    `json:"reason"`
	NotificationID string    `json:"notificationId,omitempty"`
	DonorID        string    `json:"donorId,omitempty"`
	At             time.Time `json:"at"`
}

type escalationStatResponse struct {
	Day    string `json:"day"`
	Action string `json:"action"`
	Count  int    `json:"count"`
}

func (h *RequestHandler) SubmitRequest(c *fiber.Ctx) error {
	var payload submitRequestPayload
	if err := bindAndValidate(c, &payload, false); err != nil {
		return toHTTPError(err)
	}

	result, err := h.engine.SubmitRequest(requestContext(c), service.SubmitInput{
		BloodType:   payload.BloodType,
		Latitude:    *payload.Latitude,
		Longitude:   *payload.Longitude,
		Urgency:     payload.Urgency,
		PatientName: payload.PatientName,
		Hospital:    payload.Hospital,
		SourceText:  payload.SourceText,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toControllerResultResponse(result))
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	req, err := h.engine.GetRequest(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRequestResponse(req))
}

func (h *RequestHandler) ListNotifications(c *fiber.Ctx) error {
	notifications, err := h.engine.ListNotifications(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		data = append(data, toNotificationResponse(&notifications[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *RequestHandler) CancelRequest(c *fiber.Ctx) error {
	var payload cancelPayload
	if err := bindAndValidate(c, &payload, true); err != nil {
		return toHTTPError(err)
	}

	req, err := h.engine.CancelRequest(requestContext(c), strings.TrimSpace(c.Params("id")), payload.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRequestResponse(req))
}

func (h *RequestHandler) VerifyCompletion(c *fiber.Ctx) error {
	result, err := h.engine.VerifyCompletion(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toControllerResultResponse(result))
}

func (h *RequestHandler) RecordResponse(c *fiber.Ctx) error {
	var payload responsePayload
	if err := bindAndValidate(c, &payload, false); err != nil {
		return toHTTPError(err)
	}

	outcome, err := domain.ParseOutcomeFromString(payload.Outcome)
	if err != nil {
		return toHTTPError(err)
	}
	var latency time.Duration
	if payload.LatencySeconds != nil {
		latency = time.Duration(math.Round(*payload.LatencySeconds * float64(time.Second)))
	}

	result, err := h.engine.RecordResponse(requestContext(c), strings.TrimSpace(c.Params("id")), outcome, latency)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toControllerResultResponse(result))
}

// RunSweep triggers an escalation sweep. Partial failures are reported next
// to the actions that did go through.
func (h *RequestHandler) RunSweep(c *fiber.Ctx) error {
	actions, err := h.engine.RunEscalationSweep(requestContext(c))
	if err != nil && len(actions) == 0 {
		return toHTTPError(err)
	}

	data := make([]escalationActionResponse, 0, len(actions))
	for _, a := range actions {
		data = append(data, escalationActionResponse{
			LogID:          a.LogID,
			RequestID:      a.RequestID,
			Action:         a.Action.String(),
			Reason:         a.Reason,
			NotificationID: a.NotificationID,
			DonorID:        a.DonorID,
			At:             a.At,
		})
	}

	body := fiber.Map{"actions": data}
	if err != nil {
		body["warning"] = err.Error()
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func (h *RequestHandler) EscalationStats(c *fiber.Ctx) error {
	days := c.QueryInt("days", defaultStatsDays)
	stats, err := h.engine.EscalationStats(requestContext(c), days)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]escalationStatResponse, 0, len(stats))
	for _, s := range stats {
		data = append(data, escalationStatResponse{Day: s.Day, Action: s.Action.String(), Count: s.Count})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"days": days, "data": data})
}

// requestContext carries the caller's correlation id into the engine.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toControllerResultResponse(r *service.ControllerResult) controllerResultResponse {
	if r == nil {
		return controllerResultResponse{}
	}

	path := make([]string, 0, len(r.Path))
	for _, s := range r.Path {
		path = append(path, s.String())
	}
	return controllerResultResponse{
		Outcome:        string(r.Outcome),
		RequestID:      r.RequestID,
		State:          r.State.String(),
		Status:         r.State.Status(),
		Path:           path,
		NotificationID: r.NotificationID,
		DonorID:        r.DonorID,
		MatchedDonorID: r.MatchedDonorID,
		Reason:         r.Reason,
	}
}

func toRequestResponse(r *domain.Request) requestResponse {
	if r == nil {
		return requestResponse{}
	}

	return requestResponse{
		ID:             r.ID,
		BloodType:      r.BloodType.String(),
		Latitude:       r.Location.Latitude,
		Longitude:      r.Location.Longitude,
		PatientName:    r.PatientName,
		Hospital:       r.Hospital,
		Urgency:        r.Urgency.String(),
		State:          r.State.String(),
		Status:         r.State.Status(),
		MatchedDonorID: r.MatchedDonorID,
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		AcceptedAt:     r.AcceptedAt,
		EscalatedAt:    r.EscalatedAt,
		CompletedAt:    r.CompletedAt,
		CancelledAt:    r.CancelledAt,
	}
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	resp := notificationResponse{
		ID:          n.ID,
		RequestID:   n.RequestID,
		DonorID:     n.DonorID,
		Attempt:     n.Attempt,
		Channel:     n.Channel.String(),
		Message:     n.Message,
		State:       n.State.String(),
		SendError:   n.SendError,
		ExpiresAt:   n.ExpiresAt,
		RespondedAt: n.RespondedAt,
		CreatedAt:   n.CreatedAt,
	}
	if n.ResponseLatency != nil {
		seconds := n.ResponseLatency.Seconds()
		resp.ResponseLatencySeconds = &seconds
	}
	return resp
}

func toHTTPError(err error) error {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return err
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStorage):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
