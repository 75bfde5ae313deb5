package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-gateways/app/entity"
	"github.com/vibast-solutions/ms-go-gateways/app/factory"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/mapper"
	"github.com/vibast-solutions/ms-go-gateways/app/service"
	"github.com/vibast-solutions/ms-go-gateways/app/types"
)

type GatewayController struct {
	gatewayService *service.GatewayService
	logger         logrus.FieldLogger
}

func NewGatewayController(gatewayService *service.GatewayService) *GatewayController {
	return &GatewayController{
		gatewayService: gatewayService,
		logger:         factory.NewModuleLogger("gateways-controller"),
	}
}

func (c *GatewayController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *GatewayController) Charge(ctx echo.Context) error {
	req, err := types.NewChargeRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.gatewayService.Charge(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "Charge", err, item)
	}

	return ctx.JSON(http.StatusCreated, &types.ChargeEnvelopeResponse{Charge: mapper.ChargeToResponse(item)})
}

func (c *GatewayController) GetCharge(ctx echo.Context) error {
	req, err := types.NewChargeIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.gatewayService.GetCharge(ctx.Request().Context(), req.GetChargeId())
	if err != nil {
		return c.writeServiceError(ctx, "Get charge", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.ChargeEnvelopeResponse{Charge: mapper.ChargeToResponse(item)})
}

func (c *GatewayController) GetTransactionStatus(ctx echo.Context) error {
	req, err := types.NewChargeIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	out, err := c.gatewayService.GetTransactionStatus(ctx.Request().Context(), req.GetChargeId())
	if err != nil {
		return c.writeServiceError(ctx, "Get transaction status", err, nil)
	}

	return ctx.JSON(http.StatusOK, mapper.TransactionStatusToResponse(req.GetChargeId(), out.Status))
}

func (c *GatewayController) Refund(ctx echo.Context) error {
	req, err := types.NewRefundChargeRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	out, err := c.gatewayService.Refund(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "Refund", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.RefundEnvelopeResponse{Refund: mapper.RefundToResponse(out.Refund, out.States)})
}

func (c *GatewayController) Void(ctx echo.Context) error {
	req, err := types.NewChargeIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.gatewayService.Void(ctx.Request().Context(), req.GetChargeId())
	if err != nil {
		return c.writeServiceError(ctx, "Void", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.RefundEnvelopeResponse{Refund: mapper.RefundToResponse(item, nil)})
}

func (c *GatewayController) VaultSource(ctx echo.Context) error {
	req, err := types.NewVaultSourceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.gatewayService.VaultSource(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "Vault source", err, nil)
	}

	return ctx.JSON(http.StatusCreated, &types.SourceEnvelopeResponse{Source: mapper.SourceToResponse(item)})
}

func (c *GatewayController) ChargeSource(ctx echo.Context) error {
	req, err := types.NewChargeSourceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.gatewayService.ChargeSource(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "Charge source", err, item)
	}

	return ctx.JSON(http.StatusCreated, &types.ChargeEnvelopeResponse{Charge: mapper.ChargeToResponse(item)})
}

func (c *GatewayController) GetSource(ctx echo.Context) error {
	req, err := types.NewSourceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.gatewayService.GetSource(ctx.Request().Context(), req.GetSourceId())
	if err != nil {
		return c.writeServiceError(ctx, "Get source", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.SourceEnvelopeResponse{Source: mapper.SourceToResponse(item)})
}

func (c *GatewayController) DeleteSource(ctx echo.Context) error {
	req, err := types.NewSourceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.gatewayService.DeleteSource(ctx.Request().Context(), req.GetSourceId()); err != nil {
		return c.writeServiceError(ctx, "Delete source", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Payment source deleted"})
}

func (c *GatewayController) VerifySource(ctx echo.Context) error {
	req, err := types.NewVerifySourceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.gatewayService.VerifyBankAccount(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "Verify source", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.SourceEnvelopeResponse{Source: mapper.SourceToResponse(item)})
}

func (c *GatewayController) ListSources(ctx echo.Context) error {
	req, err := types.NewListSourcesRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.gatewayService.ListSources(ctx.Request().Context(), req.MerchantAccountId, req.CustomerId)
	if err != nil {
		return c.writeServiceError(ctx, "List sources", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.ListSourcesResponse{Sources: mapper.SourcesToResponse(items)})
}

func (c *GatewayController) TestCredentials(ctx echo.Context) error {
	req, err := types.NewMerchantRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.gatewayService.TestCredentials(ctx.Request().Context(), req.MerchantAccountId); err != nil {
		return c.writeServiceError(ctx, "Test credentials", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Gateway credentials are valid"})
}

func (c *GatewayController) Capabilities(ctx echo.Context) error {
	req, err := types.NewMerchantRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	gatewayID, capabilities, err := c.gatewayService.Capabilities(ctx.Request().Context(), req.MerchantAccountId)
	if err != nil {
		return c.writeServiceError(ctx, "Capabilities", err, nil)
	}

	return ctx.JSON(http.StatusOK, &types.CapabilitiesResponse{
		MerchantAccountId: req.MerchantAccountId,
		Gateway:           gatewayID,
		Capabilities:      capabilities,
	})
}

func (c *GatewayController) ListGateways(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.GatewaysResponse{Gateways: c.gatewayService.SupportedGateways()})
}

func (c *GatewayController) HandleWebhook(ctx echo.Context) error {
	req, err := types.NewHandleWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	out, err := c.gatewayService.HandleWebhook(ctx.Request().Context(), req)
	if err != nil {
		return c.writeServiceError(ctx, "Handle webhook", err, nil)
	}
	if out.Duplicate {
		return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Webhook already processed"})
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Webhook processed"})
}

func (c *GatewayController) writeServiceError(ctx echo.Context, op string, err error, charge *entity.Charge) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrRefundExceedsRemaining),
		errors.Is(err, service.ErrWebhookRejected):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrMerchantNotFound),
		errors.Is(err, service.ErrChargeNotFound),
		errors.Is(err, service.ErrSourceNotFound):
		return c.writeError(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSourceNotChargeable):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAmountMismatch):
		return ctx.JSON(http.StatusPaymentRequired, &types.ErrorResponse{Error: err.Error(), Charge: mapper.ChargeToResponse(charge)})
	}

	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(op + " failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	resp := &types.ErrorResponse{
		Error:         gateway.MessageOf(err),
		Kind:          gwErr.Kind.String(),
		Retryable:     gwErr.Retryable,
		MissingFields: gwErr.Missing,
	}
	statusCode := gatewayErrorStatus(gwErr)
	if statusCode == http.StatusPaymentRequired {
		resp.Charge = mapper.ChargeToResponse(charge)
	}
	if statusCode >= http.StatusInternalServerError {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).WithField("gateway", gwErr.Gateway).Warn(op + " failed at gateway")
	}
	return ctx.JSON(statusCode, resp)
}

func gatewayErrorStatus(err *gateway.Error) int {
	if err.Retryable {
		return http.StatusBadGateway
	}
	switch err.Kind {
	case gateway.KindConfiguration, gateway.KindCredentialTest:
		return http.StatusUnprocessableEntity
	case gateway.KindCharge:
		return http.StatusPaymentRequired
	case gateway.KindReconciliation, gateway.KindVoidAlreadySettled:
		return http.StatusConflict
	case gateway.KindInvalidBankAccount:
		return http.StatusBadRequest
	case gateway.KindTransactionStatus:
		return http.StatusBadGateway
	case gateway.KindPaymentSource, gateway.KindRefund, gateway.KindVoid:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (c *GatewayController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
