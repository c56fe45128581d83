package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/metrics"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/cpvl/dues-server/internal/service"
	"github.com/cpvl/dues-server/internal/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePDF  = "application/pdf"
	mimePNG  = "image/png"
)

// Handler serves the HTTP API on top of a Service
type Handler struct {
	service  service.Service
	logger   *utils.Logger
	location *time.Location
}

// NewHandler creates a new Handler. location decides the current year for
// requests that don't name one.
func NewHandler(svc service.Service, logger *utils.Logger, location *time.Location) *Handler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if location == nil {
		location = time.UTC
	}
	return &Handler{service: svc, logger: logger.Named("api"), location: location}
}

// SetupRoutes registers every route on router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := router.Group("/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/login", h.Login)
	}

	authorized := router.Group("/")
	authorized.Use(AuthMiddleware())
	{
		authorized.GET("/me", h.Me)

		pilots := authorized.Group("/pilots")
		pilots.GET("/:pilotId", h.GetPilot)
		pilots.PATCH("/:pilotId/status", h.UpdatePilotStatus)

		payments := authorized.Group("/paymentMonthly")
		payments.POST("", h.CreatePayment)
		payments.PATCH("/confirmPayment", h.ConfirmPayment)
		payments.PATCH("/confirmPaymentBatch", h.ConfirmPaymentBatch)
		payments.GET("/:pilotId", h.ListPayments)
		payments.GET("/:pilotId/view", h.LedgerView)
		payments.GET("/:pilotId/pix", h.PixQuote)
		payments.GET("/:pilotId/pix.png", h.PixQRCode)
		payments.GET("/:pilotId/export", h.ExportLedger)
		payments.GET("/:pilotId/receipt/:year/:month", h.Receipt)
		payments.DELETE("/:pilotId", h.PurgePayments)
		payments.DELETE("/:pilotId/:year/:month", h.DeletePayment)
	}
}

// Authentication handlers
func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.SignUp(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.service.Me(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DataResponse{Status: "success", Data: user})
}

// Pilot handlers
func (h *Handler) GetPilot(c *gin.Context) {
	pilotID, ok := h.pilotParam(c)
	if !ok {
		return
	}

	user, err := h.service.GetPilot(c.Request.Context(), actorFrom(c), pilotID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DataResponse{Status: "success", Data: user})
}

func (h *Handler) UpdatePilotStatus(c *gin.Context) {
	pilotID, ok := h.pilotParam(c)
	if !ok {
		return
	}
	var req models.UpdatePilotStatusRequest
	if !h.bind(c, &req) {
		return
	}

	user, err := h.service.UpdatePilotStatus(c.Request.Context(), actorFrom(c), pilotID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DataResponse{Status: "success", Data: user})
}

// Ledger read handlers
func (h *Handler) ListPayments(c *gin.Context) {
	pilotID, filter, ok := h.ledgerParams(c)
	if !ok {
		return
	}

	entries, err := h.service.ListPayments(c.Request.Context(), actorFrom(c), pilotID, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DataResponse{Status: "success", Data: entries})
}

func (h *Handler) LedgerView(c *gin.Context) {
	pilotID, filter, ok := h.ledgerParams(c)
	if !ok {
		return
	}

	view, err := h.service.LedgerView(c.Request.Context(), actorFrom(c), pilotID, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.DataResponse{Status: "success", Data: view})
}

func (h *Handler) PixQuote(c *gin.Context) {
	pilotID, filter, ok := h.ledgerParams(c)
	if !ok {
		return
	}
	plan, ok := h.planParam(c)
	if !ok {
		return
	}

	quote, err := h.service.PixQuote(c.Request.Context(), actorFrom(c), pilotID, plan, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) PixQRCode(c *gin.Context) {
	pilotID, filter, ok := h.ledgerParams(c)
	if !ok {
		return
	}
	plan, ok := h.planParam(c)
	if !ok {
		return
	}

	png, err := h.service.PixQRCode(c.Request.Context(), actorFrom(c), pilotID, plan, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, mimePNG, png)
}

func (h *Handler) ExportLedger(c *gin.Context) {
	pilotID, filter, ok := h.ledgerParams(c)
	if !ok {
		return
	}

	raw, err := h.service.ExportLedger(c.Request.Context(), actorFrom(c), pilotID, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="ledger-%d-%s.xlsx"`, pilotID, filter))
	c.Data(http.StatusOK, mimeXLSX, raw)
}

func (h *Handler) Receipt(c *gin.Context) {
	pilotID, ok := h.pilotParam(c)
	if !ok {
		return
	}
	key, ok := h.keyParams(c)
	if !ok {
		return
	}

	raw, err := h.service.Receipt(c.Request.Context(), actorFrom(c), pilotID, key)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="receipt-%d-%d-%02d.pdf"`, pilotID, key.Year, key.Month))
	c.Data(http.StatusOK, mimePDF, raw)
}

// Ledger write handlers
func (h *Handler) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if !h.bind(c, &req) {
		return
	}

	entry, err := h.service.CreatePayment(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.PaymentResponse{Status: "success", Payment: *entry})
}

func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req models.PaymentKeyRequest
	if !h.bind(c, &req) {
		return
	}

	entry, err := h.service.ConfirmPayment(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PaymentResponse{Status: "success", Payment: *entry})
}

func (h *Handler) ConfirmPaymentBatch(c *gin.Context) {
	var req models.ConfirmBatchRequest
	if !h.bind(c, &req) {
		return
	}

	entries, err := h.service.ConfirmPaymentBatch(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.ConfirmBatchResponse{Status: "success", Payments: entries})
}

func (h *Handler) DeletePayment(c *gin.Context) {
	pilotID, ok := h.pilotParam(c)
	if !ok {
		return
	}
	key, ok := h.keyParams(c)
	if !ok {
		return
	}

	if err := h.service.DeletePayment(c.Request.Context(), actorFrom(c), pilotID, key); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{
		Status:  "success",
		Message: fmt.Sprintf("payment %s deleted", key),
	})
}

func (h *Handler) PurgePayments(c *gin.Context) {
	pilotID, ok := h.pilotParam(c)
	if !ok {
		return
	}
	status, err := ledger.ParseStatus(c.DefaultQuery("status", ledger.StatusToConfirm.String()))
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}

	n, err := h.service.PurgePayments(c.Request.Context(), actorFrom(c), pilotID, status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PurgeResponse{Status: "success", Deleted: n})
}

// Helper methods
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.badRequest(c, err.Error())
		return false
	}
	return true
}

func (h *Handler) pilotParam(c *gin.Context) (int64, bool) {
	pilotID, err := strconv.ParseInt(c.Param("pilotId"), 10, 64)
	if err != nil || pilotID <= 0 {
		h.badRequest(c, "Invalid pilot ID")
		return 0, false
	}
	return pilotID, true
}

func (h *Handler) ledgerParams(c *gin.Context) (int64, ledger.YearFilter, bool) {
	pilotID, ok := h.pilotParam(c)
	if !ok {
		return 0, ledger.YearFilter{}, false
	}
	filter, err := ledger.ParseYearFilter(c.Query("year"), time.Now().In(h.location).Year())
	if err != nil {
		h.badRequest(c, err.Error())
		return 0, ledger.YearFilter{}, false
	}
	return pilotID, filter, true
}

func (h *Handler) keyParams(c *gin.Context) (ledger.Key, bool) {
	year, errYear := strconv.Atoi(c.Param("year"))
	month, errMonth := strconv.Atoi(c.Param("month"))
	if errYear != nil || errMonth != nil {
		h.badRequest(c, "Invalid reference month")
		return ledger.Key{}, false
	}
	if err := ledger.ValidateKey(year, month); err != nil {
		h.badRequest(c, err.Error())
		return ledger.Key{}, false
	}
	return ledger.Key{Year: year, Month: month}, true
}

func (h *Handler) planParam(c *gin.Context) (ledger.PlanType, bool) {
	plan, err := ledger.ParsePlanType(c.Query("plan"))
	if err != nil {
		h.badRequest(c, err.Error())
		return "", false
	}
	return plan, true
}

func (h *Handler) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    "INVALID_REQUEST",
		Message: message,
	})
}

// respondError maps service errors to HTTP responses
func (h *Handler) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	message := err.Error()

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, service.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, service.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, service.ErrAdminOnly):
		status, code = http.StatusForbidden, "ADMIN_ONLY"
	case errors.Is(err, service.ErrPilotNotAffiliated):
		status, code = http.StatusForbidden, "PILOT_NOT_AFFILIATED"
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrPilotNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, service.ErrPaymentNotFound):
		status, code = http.StatusNotFound, "PAYMENT_NOT_FOUND"
	case errors.Is(err, service.ErrEmailTaken):
		status, code = http.StatusConflict, "EMAIL_TAKEN"
	case errors.Is(err, service.ErrAlreadyConfirmed):
		status, code = http.StatusConflict, "ALREADY_CONFIRMED"
	case errors.Is(err, service.ErrNotConfirmed):
		status, code = http.StatusConflict, "NOT_CONFIRMED"
	default:
		h.logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		message = "Internal server error"
	}

	_ = c.Error(err)
	c.JSON(status, models.ErrorResponse{Status: "error", Code: code, Message: message})
}
