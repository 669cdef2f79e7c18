// Package httpapi exposes the loyalty core over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"loyalty_service/internal/earning"
	"loyalty_service/internal/ledger"
	"loyalty_service/internal/model"
	"loyalty_service/internal/notify"
	"loyalty_service/internal/redemption"
	"loyalty_service/internal/spin"
	"loyalty_service/internal/tier"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Subscriber streams a user's events while the returned cancel func is
// not yet called.
type Subscriber interface {
	Subscribe(userID string) (<-chan notify.Event, func())
}

type Handler struct {
	ledger      *ledger.Engine
	spins       *spin.Service
	redemptions *redemption.Manager
	tiers       *tier.Gate
	earning     *earning.Service
	hub         Subscriber
	gatherer    prometheus.Gatherer
	log         logrus.FieldLogger
}

type Deps struct {
	Ledger      *ledger.Engine
	Spins       *spin.Service
	Redemptions *redemption.Manager
	Tiers       *tier.Gate
	Earning     *earning.Service
	Events      Subscriber
	Gatherer    prometheus.Gatherer
	Log         logrus.FieldLogger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		ledger:      d.Ledger,
		spins:       d.Spins,
		redemptions: d.Redemptions,
		tiers:       d.Tiers,
		earning:     d.Earning,
		hub:         d.Events,
		gatherer:    d.Gatherer,
		log:         d.Log,
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/users", h.createUser)
	r.GET("/clubs", h.listClubs)
	r.GET("/rules", h.listRules)
	r.GET("/rewards", h.listRewards)
	r.GET("/wheels/:wheel_id/odds", h.wheelOdds)
	r.GET("/redemptions/:redemption_id", h.getRedemption)
	r.PATCH("/redemptions/:redemption_id", h.updateRedemption)

	users := r.Group("/users/:user_id")
	{
		users.GET("/balance", h.balance)
		users.GET("/transactions", h.history)
		users.GET("/reconcile", h.reconcile)
		users.POST("/award", h.award)
		users.POST("/deduct", h.deduct)
		users.POST("/rules/:rule_id", h.applyRule)
		users.POST("/spin", h.spin)
		users.GET("/spins", h.spinHistory)
		users.POST("/redemptions", h.redeem)
		users.GET("/redemptions", h.listRedemptions)
		users.POST("/club", h.upgrade)
		users.GET("/tier", h.displayTier)
		if h.hub != nil {
			users.GET("/events", h.events)
		}
	}
	return r
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}

type createUserRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	u, err := h.ledger.CreateUser(c.Request.Context(), req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) balance(c *gin.Context) {
	u, err := h.ledger.User(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": u.ID, "balance": u.CurrentPoints, "club_id": u.ClubID})
}

func (h *Handler) history(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	entries, err := h.ledger.History(c.Request.Context(), c.Param("user_id"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}

func (h *Handler) reconcile(c *gin.Context) {
	rec, err := h.ledger.Reconcile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

var maxPoints = decimal.NewFromInt(math.MaxInt64)

// Amount must be a whole positive number of points that fits in int64.
type pointsRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	RuleID        *string         `json:"rule_id"`
	Description   string          `json:"description"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
}

func (r pointsRequest) toLedger(userID string) (ledger.Request, error) {
	if !r.Amount.IsInteger() {
		return ledger.Request{}, errors.New("amount must be a whole number of points")
	}
	if !r.Amount.IsPositive() {
		return ledger.Request{}, ledger.ErrInvalidAmount
	}
	if r.Amount.GreaterThan(maxPoints) {
		return ledger.Request{}, fmt.Errorf("%w: %s exceeds %s", ledger.ErrInvalidAmount, r.Amount, maxPoints)
	}
	return ledger.Request{
		UserID:        userID,
		Amount:        r.Amount.IntPart(),
		RuleID:        r.RuleID,
		Description:   r.Description,
		ReferenceType: r.ReferenceType,
		ReferenceID:   r.ReferenceID,
	}, nil
}

func (h *Handler) award(c *gin.Context) {
	h.movePoints(c, h.ledger.Award)
}

func (h *Handler) deduct(c *gin.Context) {
	h.movePoints(c, h.ledger.Deduct)
}

func (h *Handler) movePoints(c *gin.Context, fn func(context.Context, ledger.Request) (model.LedgerEntry, error)) {
	var body pointsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := body.toLedger(c.Param("user_id"))
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			h.fail(c, err)
			return
		}
		badRequest(c, err)
		return
	}
	entry, err := fn(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type applyRuleRequest struct {
	ReferenceID string `json:"reference_id"`
}

func (h *Handler) applyRule(c *gin.Context) {
	var req applyRuleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	entry, err := h.earning.Apply(c.Request.Context(), c.Param("user_id"), c.Param("rule_id"), req.ReferenceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) listRules(c *gin.Context) {
	rules, err := h.earning.Rules(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

type spinRequest struct {
	WheelID string `json:"wheel_id"`
}

func (h *Handler) spin(c *gin.Context) {
	var req spinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	var (
		res spin.Result
		err error
	)
	if req.WheelID == "" {
		res, err = h.spins.Spin(c.Request.Context(), c.Param("user_id"))
	} else {
		res, err = h.spins.SpinWheel(c.Request.Context(), c.Param("user_id"), req.WheelID)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) spinHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	spins, err := h.spins.History(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"spins": spins})
}

func (h *Handler) wheelOdds(c *gin.Context) {
	odds, err := h.spins.Odds(c.Request.Context(), c.Param("wheel_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wheel_id": c.Param("wheel_id"), "odds": odds})
}

type redeemRequest struct {
	RewardID     string `json:"reward_id" binding:"required"`
	DeliveryInfo string `json:"delivery_info"`
}

func (h *Handler) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	red, err := h.redemptions.Redeem(c.Request.Context(), c.Param("user_id"), req.RewardID, req.DeliveryInfo)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, red)
}

func (h *Handler) listRedemptions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.redemptions.List(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": list})
}

func (h *Handler) getRedemption(c *gin.Context) {
	red, err := h.redemptions.Get(c.Request.Context(), c.Param("redemption_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, red)
}

func (h *Handler) listRewards(c *gin.Context) {
	rewards, err := h.redemptions.Rewards(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards": rewards})
}

type updateRedemptionRequest struct {
	Status       model.RedemptionStatus `json:"status" binding:"required"`
	Note         string                 `json:"note"`
	TrackingCode string                 `json:"tracking_code"`
}

func (h *Handler) updateRedemption(c *gin.Context) {
	var req updateRedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	red, err := h.redemptions.UpdateStatus(c.Request.Context(), c.Param("redemption_id"), redemption.Update{
		Status:       req.Status,
		Note:         req.Note,
		TrackingCode: req.TrackingCode,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, red)
}

type upgradeRequest struct {
	ClubID string `json:"club_id" binding:"required"`
}

func (h *Handler) upgrade(c *gin.Context) {
	var req upgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.tiers.Upgrade(c.Request.Context(), c.Param("user_id"), req.ClubID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) displayTier(c *gin.Context) {
	club, ok, err := h.tiers.DisplayTier(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"tier": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": club})
}

func (h *Handler) listClubs(c *gin.Context) {
	clubs, err := h.tiers.Clubs(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clubs": clubs})
}

// events streams the user's notifications as server-sent events until the
// client goes away.
func (h *Handler) events(c *gin.Context) {
	events, cancel := h.hub.Subscribe(c.Param("user_id"))
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
