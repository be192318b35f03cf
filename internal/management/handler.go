package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"connector/internal/constants"
	"connector/internal/logger"
	"connector/internal/messages"
	"connector/pkg/errors"
	"connector/pkg/models"
)

const HeaderChangedBy = "X-Changed-By"

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1", changedBy())
	{
		rules := v1.Group("/rules/routing")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.POST("/:id/persist", h.PersistRule)
		}

		links := v1.Group("/links")
		{
			links.GET("", h.ListLinks)
			links.POST("/:name/activate", h.ActivateLink)
			links.POST("/:name/shutdown", h.ShutdownLink)
		}

		msgs := v1.Group("/messages")
		{
			msgs.GET("", h.ListMessages)
			msgs.GET("/:id", h.GetMessage)
		}

		dlq := v1.Group("/dlq")
		{
			dlq.GET("/:queue", h.ListDeadLetters)
			dlq.POST("/:queue/replay", h.ReplayDeadLetters)
		}
	}
}

func changedBy() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := c.GetHeader(HeaderChangedBy); user != "" {
			c.Request = c.Request.WithContext(WithChangedBy(c.Request.Context(), user))
		}
		c.Next()
	}
}

// ListRules godoc
// @Summary      List routing rules
// @Description  Get the effective routing rules of the business domain, highest priority first
// @Tags         routing-rules
// @Produce      json
// @Param        X-Business-Domain  header  string  false  "Business domain"
// @Success      200  {array}   routing.Rule
// @Router       /rules/routing [get]
func (h *Handler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.ListRoutingRules(c.Request.Context()))
}

// CreateRule godoc
// @Summary      Add a routing rule
// @Description  Add a rule effective on this instance until it is persisted or deleted
// @Tags         routing-rules
// @Accept       json
// @Produce      json
// @Param        X-Business-Domain  header  string                    false  "Business domain"
// @Param        rule               body    CreateRoutingRuleRequest  true   "Routing rule"
// @Success      201  {object}  routing.Rule
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /rules/routing [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRoutingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.CreateRoutingRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// DeleteRule godoc
// @Summary      Delete a routing rule
// @Tags         routing-rules
// @Param        X-Business-Domain  header  string  false  "Business domain"
// @Param        id                 path    string  true   "Rule ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /rules/routing/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRoutingRule(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PersistRule godoc
// @Summary      Persist a routing rule
// @Description  Store a dynamic rule so every instance loads it
// @Tags         routing-rules
// @Produce      json
// @Param        X-Business-Domain  header  string  false  "Business domain"
// @Param        id                 path    string  true   "Rule ID"
// @Success      200  {object}  routing.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /rules/routing/{id}/persist [post]
func (h *Handler) PersistRule(c *gin.Context) {
	rule, err := h.Service.PersistRoutingRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ListLinks godoc
// @Summary      List active link partners
// @Tags         links
// @Produce      json
// @Success      200  {array}  link.PartnerInfo
// @Router       /links [get]
func (h *Handler) ListLinks(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.ListLinkPartners(c.Request.Context()))
}

// ActivateLink godoc
// @Summary      Activate a link partner
// @Tags         links
// @Produce      json
// @Param        name  path  string  true  "Link partner name"
// @Success      200  {object}  link.PartnerInfo
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /links/{name}/activate [post]
func (h *Handler) ActivateLink(c *gin.Context) {
	info, err := h.Service.ActivateLinkPartner(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ShutdownLink godoc
// @Summary      Shut down a link partner
// @Tags         links
// @Param        name  path  string  true  "Link partner name"
// @Success      204
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /links/{name}/shutdown [post]
func (h *Handler) ShutdownLink(c *gin.Context) {
	if err := h.Service.ShutdownLinkPartner(c.Request.Context(), c.Param("name")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages godoc
// @Summary      List messages
// @Description  List the messages of the business domain, newest first
// @Tags         messages
// @Produce      json
// @Param        X-Business-Domain  header  string  false  "Business domain"
// @Param        direction          query   string  false  "BACKEND_TO_GATEWAY or GATEWAY_TO_BACKEND"
// @Param        state              query   string  false  "Message state"
// @Param        limit              query   int     false  "Page size"
// @Param        offset             query   int     false  "Page offset"
// @Success      200  {array}   models.Message
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	filter := messages.ListFilter{
		Direction: models.Direction(c.Query("direction")),
		State:     models.MessageState(c.Query("state")),
		Limit:     parseLimit(c.Query("limit")),
		Offset:    offset,
	}

	msgs, err := h.Service.ListMessages(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// GetMessage godoc
// @Summary      Get a message
// @Description  Get a message by connector id or partner message id, with its last transport attempts
// @Tags         messages
// @Produce      json
// @Param        id  path  string  true  "Message reference"
// @Success      200  {object}  MessageView
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /messages/{id} [get]
func (h *Handler) GetMessage(c *gin.Context) {
	view, err := h.Service.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListDeadLetters godoc
// @Summary      List dead-lettered envelopes
// @Tags         dlq
// @Produce      json
// @Param        queue  path   string  true   "Queue name"
// @Param        limit  query  int     false  "Maximum entries"
// @Success      200  {array}   broker.DLQEntry
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /dlq/{queue} [get]
func (h *Handler) ListDeadLetters(c *gin.Context) {
	entries, err := h.Service.ListDeadLetters(c.Request.Context(), c.Param("queue"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ReplayDeadLetters godoc
// @Summary      Replay dead-lettered envelopes
// @Description  Move envelopes from the dead-letter queue back to their queue
// @Tags         dlq
// @Produce      json
// @Param        queue  path   string  true   "Queue name"
// @Param        limit  query  int     false  "Maximum entries"
// @Success      200  {object}  ReplayResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Router       /dlq/{queue}/replay [post]
func (h *Handler) ReplayDeadLetters(c *gin.Context) {
	queue := c.Param("queue")
	n, err := h.Service.ReplayDeadLetters(c.Request.Context(), queue, parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReplayResponse{Queue: queue, Replayed: n})
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
