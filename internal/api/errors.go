package api

import (
	"net/http"

	"snapcart/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{domain.ErrUnsupportedCheckoutSource, http.StatusNotImplemented},
	{domain.ErrOrderNotFound, http.StatusNotFound},
	{domain.ErrCouponNotFound, http.StatusNotFound},
	{domain.ErrAddressNotFound, http.StatusNotFound},
	{domain.ErrWalletNotFound, http.StatusNotFound},
	{domain.ErrInsufficientBalance, http.StatusPaymentRequired},
	{domain.ErrWalletInactive, http.StatusPaymentRequired},
	{domain.ErrConcurrentModification, http.StatusConflict},
	{domain.ErrInvalidTransition, http.StatusConflict},
	{domain.ErrAlreadyRefunded, http.StatusConflict},
	{domain.ErrNothingToRefund, http.StatusConflict},
	{domain.ErrCouponExpired, http.StatusConflict},
	{domain.ErrEmptyCart, http.StatusUnprocessableEntity},
	{domain.ErrCouponInvalid, http.StatusUnprocessableEntity},
	{domain.ErrInvalidCoupon, http.StatusUnprocessableEntity},
	{domain.ErrUnsupportedPaymentMethod, http.StatusUnprocessableEntity},
	{domain.ErrInvalidAmount, http.StatusUnprocessableEntity},
}

func statusOf(err error) int {
	for _, m := range statusBySentinel {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	if domain.IsRetriable(err) {
		body["retriable"] = true
	}
	var couponErr *domain.CouponInvalidError
	if errors.As(err, &couponErr) {
		body["reason"] = couponErr.Reason
		body["error"] = couponErr.Message
	}
	c.JSON(status, body)
}
