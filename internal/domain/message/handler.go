package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/ehr/hl7-connector/internal/platform/auth"
	"github.com/ehr/hl7-connector/internal/platform/epr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireScope("read:hl7_message"))
	read.GET("/message/search", h.SearchByIdentifier)
	read.GET("/message/search/:message_control_id", h.SearchByControlID)
	read.GET("/message/:uuid", h.GetMessage)

	write := api.Group("", auth.RequireScope("write:hl7_message"))
	write.POST("/message", h.CreateAndProcessMessage)
	write.PATCH("/message/:uuid", h.UpdateMessage)
	write.POST("/oru_message", h.CreateORUMessage)
	write.POST("/cda_message", h.CreateCDAMessage)
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	var validation *ValidationError
	var unavailable *epr.UnavailableError
	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	case errors.As(err, &unavailable), errors.Is(err, epr.ErrScopeUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreateAndProcessMessage(c echo.Context) error {
	var body struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request requires a body field")
	}
	result, err := h.svc.ProcessReceivedMessage(c.Request().Context(), body.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) UpdateMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	var update map[string]any
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for key := range update {
		if key != "is_processed" {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("field %q is not updatable", key))
		}
	}
	isProcessed, ok := update["is_processed"].(bool)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "is_processed must be a boolean")
	}
	if err := h.svc.SetProcessed(c.Request().Context(), id, isProcessed); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateORUMessage(c echo.Context) error {
	var body struct {
		Actions []struct {
			Name string          `json:"name"`
			Data json.RawMessage `json:"data"`
		} `json:"actions"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var data *ORUData
	for _, action := range body.Actions {
		if action.Name != "process_observation_set" {
			continue
		}
		data = &ORUData{}
		if err := json.Unmarshal(action.Data, data); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		break
	}
	if data == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Request requires a 'process_observation_set' action with data")
	}

	if err := h.svc.CreateORUMessage(c.Request().Context(), *data); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	msg, err := h.svc.GetMessage(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg.ToAPI())
}

func (h *Handler) SearchByControlID(c echo.Context) error {
	items, err := h.svc.FindByControlID(c.Request().Context(), c.Param("message_control_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toAPIList(items))
}

func (h *Handler) SearchByIdentifier(c echo.Context) error {
	identifierType := c.QueryParam("identifier_type")
	identifier := c.QueryParam("identifier")
	if identifierType == "" || identifier == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "identifier_type and identifier are required")
	}
	items, err := h.svc.FindByIdentifier(c.Request().Context(), identifierType, identifier)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toAPIList(items))
}

func (h *Handler) CreateCDAMessage(c echo.Context) error {
	var body struct {
		Content string `json:"content"`
		Type    string `json:"type"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.Content == "" || body.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content and type are required")
	}
	if body.Type != "HL7v3CDA" {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unsupported CDA message type %s", body.Type))
	}
	if !h.svc.CDAConfigured() {
		log.Warn().Msg("not sending CDA message due to config")
		return c.NoContent(http.StatusNotImplemented)
	}

	id, err := h.svc.CreateCDAMessage(c.Request().Context(), body.Content)
	if err != nil {
		return httpError(err)
	}
	// Forwarding failures are tracked by message uuid and retried later,
	// so they do not fail the request.
	if err := h.svc.PostMessage(c.Request().Context(), id); err != nil {
		log.Warn().Err(err).Str("hl7_message_uuid", id.String()).
			Msg("failed to send CDA message, will be handled by failed request queue")
	}
	return c.NoContent(http.StatusCreated)
}

func toAPIList(items []*Message) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, m := range items {
		out = append(out, m.ToAPI())
	}
	return out
}
