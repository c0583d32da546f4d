package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/models"
)

type createOrderRequest struct {
	FundID       uuid.UUID       `json:"fund_id" binding:"required"`
	PartyID      uuid.UUID       `json:"party_id" binding:"required"`
	Side         string          `json:"side" binding:"required"`
	Units        decimal.Decimal `json:"units"`
	TermMonths   int             `json:"term_months"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	UnitPrice    decimal.Decimal `json:"unit_price"` // optional; defaults to current NAV
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(errors.KindInvalidOrder, err, "invalid request body"))
		return
	}

	unitPrice := req.UnitPrice
	if unitPrice.IsZero() {
		nav, err := s.nav.CurrentNAV(c.Request.Context(), req.FundID)
		if err != nil {
			respondError(c, err)
			return
		}
		unitPrice = nav
	}

	order := &models.Order{
		ID:           uuid.New(),
		FundID:       req.FundID,
		PartyID:      req.PartyID,
		Side:         req.Side,
		UnitPrice:    unitPrice,
		Units:        req.Units,
		TermMonths:   req.TermMonths,
		InterestRate: req.InterestRate,
	}
	if err := s.store.CreateOrder(c.Request.Context(), order); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindInvalidOrder, "invalid order id"))
		return
	}
	order, err := s.store.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindInvalidOrder, "invalid order id"))
		return
	}
	if err := s.store.CancelOrder(c.Request.Context(), orderID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
