package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"atelier_backend/internal/production/export"
	"atelier_backend/internal/production/service"
	"atelier_backend/internal/production/transport"
	"atelier_backend/platform/httpkit"
	"atelier_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// StreamHandler serves the live timeline stream of one order.
type StreamHandler interface {
	Stream(c *gin.Context, orderID uuid.UUID)
}

type Handler struct {
	svc    *service.Service
	val    *validator.Validator
	stream StreamHandler
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// SetStream enables GET /orders/:id/stream.
func (h *Handler) SetStream(stream StreamHandler) {
	h.stream = stream
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stages", h.ListStages)

	orders := rg.Group("/orders")
	orders.GET("", h.ListOrders)
	orders.POST("", h.CreateOrder)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/cancel", h.CancelOrder)
	orders.POST("/:id/advance", h.Advance)
	orders.POST("/:id/split", h.Split)
	orders.POST("/:id/units/complete", h.CompleteUnits)
	orders.POST("/:id/reception", h.Receive)
	orders.GET("/:id/review/groups", h.ReviewGroups)
	orders.POST("/:id/review/preview", h.PreviewReview)
	orders.POST("/:id/review/confirm", h.ConfirmGroup)
	orders.POST("/:id/review/confirm-actor", h.ConfirmActor)
	orders.GET("/:id/repairs", h.ListRepairs)
	orders.POST("/:id/repairs/:unitId/resolve", h.ResolveRepair)
	orders.GET("/:id/actors/status", h.ActorStates)
	orders.GET("/:id/timeline", h.Timeline)
	orders.GET("/:id/timeline/export", h.ExportTimeline)
	if h.stream != nil {
		orders.GET("/:id/stream", h.Stream)
	}
}

func (h *Handler) ListStages(c *gin.Context) {
	httpkit.OK(c, h.svc.Stages())
}

func (h *Handler) ListOrders(c *gin.Context) {
	var req transport.ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if !h.validate(c, req) {
		return
	}

	result, err := h.svc.ListOrders(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	var req transport.CreateOrderRequest
	if !h.bind(c, &req) {
		return
	}

	order, err := h.svc.CreateOrder(c.Request.Context(), identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, order)
}

func (h *Handler) GetOrder(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.GetOrder(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, order)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	var req transport.VersionedRequest
	if !h.bind(c, &req) {
		return
	}

	order, err := h.svc.CancelOrder(c.Request.Context(), identity.UserID(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, order)
}

func (h *Handler) Advance(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	var req transport.AdvanceRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.Advance(c.Request.Context(), identity.UserID(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Split(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	var req transport.SplitRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.Split(c.Request.Context(), identity.UserID(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

func (h *Handler) CompleteUnits(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	var req transport.CompleteUnitsRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.CompleteUnits(c.Request.Context(), identity.UserID(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Receive(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	var req transport.ReceptionRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.Receive(c.Request.Context(), identity.UserID(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) ReviewGroups(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	groups, err := h.svc.ReviewGroups(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, groups)
}

func (h *Handler) PreviewReview(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req transport.ReviewPreviewRequest
	if !h.bind(c, &req) {
		return
	}

	group, err := h.svc.PreviewReview(c.Request.Context(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, group)
}

func (h *Handler) ConfirmGroup(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	var req transport.ReviewConfirmRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.ConfirmGroup(c.Request.Context(), identity.UserID(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) ConfirmActor(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	var req transport.ReviewConfirmActorRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.ConfirmActor(c.Request.Context(), identity.UserID(), orderID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListRepairs accepts an optional ?kind=&actorId= filter.
func (h *Handler) ListRepairs(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var actor *transport.ActorRequest
	if raw := c.Query("actorId"); raw != "" {
		actorID, err := uuid.Parse(raw)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "actorId must be a uuid")
			return
		}
		actor = &transport.ActorRequest{Kind: c.DefaultQuery("kind", "workshop"), ID: actorID}
		if !h.validate(c, *actor) {
			return
		}
	}

	units, err := h.svc.TrackRepairs(c.Request.Context(), orderID, actor)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, units)
}

func (h *Handler) ResolveRepair(c *gin.Context) {
	identity, orderID, ok := h.mutation(c)
	if !ok {
		return
	}
	unitID, ok := parseID(c, "unitId")
	if !ok {
		return
	}
	var req transport.VersionedRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.ResolveRepair(c.Request.Context(), identity.UserID(), orderID, unitID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) ActorStates(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	states, err := h.svc.ActorStates(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, states)
}

func (h *Handler) Timeline(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	timeline, err := h.svc.Timeline(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, timeline)
}

// ExportTimeline serves the timeline as an XLSX attachment.
func (h *Handler) ExportTimeline(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	timeline, err := h.svc.Timeline(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}

	var buf bytes.Buffer
	if err := export.WriteTimeline(&buf, timeline); err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "export failed", nil)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(timeline)+`"`)
	c.Data(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
}

func (h *Handler) Stream(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	h.stream.Stream(c, orderID)
}

// mutation resolves the acting identity and the order id of a mutating call.
func (h *Handler) mutation(c *gin.Context) (httpkit.Identity, uuid.UUID, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return nil, uuid.Nil, false
	}
	orderID, ok := parseID(c, "id")
	if !ok {
		return nil, uuid.Nil, false
	}
	return identity, orderID, true
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return false
	}
	return h.validate(c, req)
}

func (h *Handler) validate(c *gin.Context, req any) bool {
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, param+" must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}
