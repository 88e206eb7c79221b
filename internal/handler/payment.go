package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/service"
)

// CallbackAPI settles gateway callbacks.
type CallbackAPI interface {
	Handle(ctx context.Context, params url.Values) (service.CallbackResult, error)
	IPN(ctx context.Context, params url.Values) service.IPNResponse
}

// PaymentHandler serves the public VNPay endpoints.
type PaymentHandler struct {
	callback CallbackAPI
	log      logrus.FieldLogger
}

func NewPaymentHandler(callback CallbackAPI, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{callback: callback, log: log.WithField("component", "payment-handler")}
}

// Return handles GET /v1/payments/vnpay/return, where the browser lands
// after paying. A payment the gateway rejected answers 400 with the result.
func (h *PaymentHandler) Return(c echo.Context) error {
	res, err := h.callback.Handle(c.Request().Context(), c.QueryParams())
	if err != nil {
		return fail(c, h.log, err)
	}
	if !res.Confirmed {
		return c.JSON(http.StatusBadRequest, res)
	}
	return c.JSON(http.StatusOK, res)
}

// IPN handles GET /v1/payments/vnpay/ipn. The gateway expects 200 with
// its own RspCode/Message body whatever the outcome.
func (h *PaymentHandler) IPN(c echo.Context) error {
	return c.JSON(http.StatusOK, h.callback.IPN(c.Request().Context(), c.QueryParams()))
}
