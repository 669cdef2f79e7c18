package httpapi

import (
	"errors"
	"net/http"

	"loyalty_service/internal/earning"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/prize"
	"loyalty_service/internal/redemption"
	"loyalty_service/internal/spin"
	"loyalty_service/internal/store"
	"loyalty_service/internal/tier"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// An error that wraps another sentinel is listed before it.
var errorMappings = []errorMapping{
	{ledger.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{ledger.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{tier.ErrClubNotFound, http.StatusNotFound, "club_not_found"},
	{tier.ErrInvalidTierTransition, http.StatusConflict, "invalid_tier_transition"},
	{redemption.ErrRewardInactive, http.StatusForbidden, "reward_inactive"},
	{tier.ErrNotEligible, http.StatusForbidden, "not_eligible"},
	{redemption.ErrRewardNotFound, http.StatusNotFound, "reward_not_found"},
	{redemption.ErrOutOfStock, http.StatusConflict, "out_of_stock"},
	{redemption.ErrRedemptionNotFound, http.StatusNotFound, "redemption_not_found"},
	{redemption.ErrInvalidStatus, http.StatusUnprocessableEntity, "invalid_status"},
	{prize.ErrWheelNotFound, http.StatusNotFound, "wheel_not_found"},
	{prize.ErrNoPrizes, http.StatusConflict, "wheel_has_no_prizes"},
	{prize.ErrPrizeExhausted, http.StatusConflict, "prize_exhausted"},
	{spin.ErrWheelInactive, http.StatusConflict, "wheel_inactive"},
	{earning.ErrRuleNotFound, http.StatusNotFound, "rule_not_found"},
	{earning.ErrRuleInactive, http.StatusConflict, "rule_inactive"},
	{earning.ErrDailyLimitReached, http.StatusTooManyRequests, "daily_limit_reached"},
	{store.ErrBusy, http.StatusServiceUnavailable, "busy"},
}

func (h *Handler) fail(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.status == http.StatusServiceUnavailable {
				c.Header("Retry-After", "1")
			}
			c.JSON(m.status, gin.H{"error": err.Error(), "code": m.code})
			return
		}
	}

	fields := logrus.Fields{"path": c.FullPath(), "error": err.Error()}
	if errors.Is(err, store.ErrInvariantViolation) {
		h.log.WithFields(fields).Error("invariant violation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal consistency error", "code": "invariant_violation"})
		return
	}
	h.log.WithFields(fields).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
}
