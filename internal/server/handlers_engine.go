package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quantora/fundmatch/pkg/errors"
)

type createEngineRequest struct {
	FundID uuid.UUID `json:"fund_id" binding:"required"`
}

func (s *Server) handleCreateEngine(c *gin.Context) {
	var req createEngineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(errors.KindInvalidFund, err, "invalid request body"))
		return
	}
	eng, err := s.registry.Create(c.Request.Context(), req.FundID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"engine_id": eng.ID()})
}

func (s *Server) handleListEngines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"engines": s.registry.List()})
}

type addOrderRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
}

func (s *Server) handleAddOrder(c *gin.Context) {
	engineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindEngineNotFound, "invalid engine id"))
		return
	}
	var req addOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(errors.KindInvalidOrder, err, "invalid request body"))
		return
	}

	result, err := s.registry.AddOrder(c.Request.Context(), engineID, req.OrderID)
	if err != nil {
		// Admission rejections are tagged results, not transport errors.
		switch errors.KindOf(err) {
		case errors.KindDuplicateAdmission, errors.KindAlreadySettled, errors.KindInvalidOrder:
			c.JSON(http.StatusOK, gin.H{"accepted": false, "reason": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	if !result.Accepted {
		c.JSON(http.StatusOK, gin.H{"accepted": false, "reason": result.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func (s *Server) handleProcessAll(c *gin.Context) {
	engineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindEngineNotFound, "invalid engine id"))
		return
	}
	report, err := s.registry.ProcessAll(c.Request.Context(), engineID)
	if err != nil {
		respondError(c, err)
		return
	}
	s.publisher.PublishMatches(c.Request.Context(), "engine", report.MatchedPairs)
	c.JSON(http.StatusOK, gin.H{
		"matched_pairs": report.MatchedPairs,
		"remaining": gin.H{
			"buys":  report.RemainingBuys,
			"sells": report.RemainingSells,
		},
		"errors": report.Errors,
	})
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	engineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindEngineNotFound, "invalid engine id"))
		return
	}
	queued, err := s.registry.QueueStatus(engineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued_count": len(queued), "order_ids": queued})
}

func (s *Server) handleClearQueue(c *gin.Context) {
	engineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindEngineNotFound, "invalid engine id"))
		return
	}
	cleared, err := s.registry.ClearQueue(c.Request.Context(), engineID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared_count": cleared})
}

func (s *Server) handleCleanupEngine(c *gin.Context) {
	raw := c.Param("id")
	if raw == "*" {
		s.handleCleanupAll(c)
		return
	}
	engineID, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, errors.New(errors.KindEngineNotFound, "invalid engine id"))
		return
	}
	if err := s.registry.Cleanup(c.Request.Context(), engineID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleaned_count": 1})
}

func (s *Server) handleCleanupAll(c *gin.Context) {
	cleaned := s.registry.CleanupAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cleaned_count": cleaned})
}

type handleRemainingRequest struct {
	RemainingBuys  []uuid.UUID `json:"remaining_buys"`
	RemainingSells []uuid.UUID `json:"remaining_sells"`
}

func (s *Server) handleMarketMakerRemaining(c *gin.Context) {
	var req handleRemainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(errors.KindInvalidOrder, err, "invalid request body"))
		return
	}
	result, err := s.marketMaker.HandleRemaining(c.Request.Context(), req.RemainingBuys, req.RemainingSells)
	if err != nil {
		respondError(c, err)
		return
	}
	s.publisher.PublishMatches(c.Request.Context(), "market_maker", result.MatchedPairs)
	c.JSON(http.StatusOK, gin.H{
		"handled": gin.H{
			"buys":  result.Buys,
			"sells": result.Sells,
		},
		"matched_pairs": result.MatchedPairs,
	})
}
