package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantora/fundmatch/internal/pricing"
	"github.com/quantora/fundmatch/pkg/errors"
	"github.com/quantora/fundmatch/pkg/models"
)

const dateLayout = "2006-01-02"

func (s *Server) handleListFunds(c *gin.Context) {
	funds, err := s.store.ListFunds(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"funds": funds})
}

func (s *Server) handleNAVHistory(c *gin.Context) {
	fundID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindInvalidFund, "invalid fund id"))
		return
	}
	from, to, err := parseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, err)
		return
	}
	samples, err := s.store.NAVHistory(c.Request.Context(), fundID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"samples": samples})
}

type navUpdateRequest struct {
	NAV       decimal.Decimal `json:"nav"`
	SampledAt string          `json:"sampled_at"` // ISO date, optional
}

// handleNAVUpdate is the push endpoint for the realtime distributor.
func (s *Server) handleNAVUpdate(c *gin.Context) {
	fundID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.New(errors.KindInvalidFund, "invalid fund id"))
		return
	}
	var req navUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(errors.KindInvalidFund, err, "invalid request body"))
		return
	}
	at := time.Now().UTC()
	if req.SampledAt != "" {
		parsed, perr := time.Parse(dateLayout, req.SampledAt)
		if perr != nil {
			respondError(c, errors.Wrap(errors.KindInvalidFund, perr, "invalid sampled_at"))
			return
		}
		at = parsed
	}
	if err := s.distributor.Apply(c.Request.Context(), fundID, req.NAV, at); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true})
}

type calculateNAVRequest struct {
	FundID   uuid.UUID       `json:"fund_id" binding:"required"`
	FromDate string          `json:"from_date"`
	ToDate   string          `json:"to_date"`
	CapLower decimal.Decimal `json:"cap_lower"`
	CapUpper decimal.Decimal `json:"cap_upper"`
}

type navTransaction struct {
	Order         *models.Order   `json:"order"`
	Price1        decimal.Decimal `json:"price1"`
	Price2        decimal.Decimal `json:"price2"`
	ConvertedRate decimal.Decimal `json:"converted_rate"`
	Delta         decimal.Decimal `json:"delta"`
	Profitable    bool            `json:"profitable"`
	Reason        string          `json:"reason,omitempty"`
}

// handleCalculateNAV re-prices a fund's orders at the current NAV and
// evaluates each against the caller-supplied tolerance band.
func (s *Server) handleCalculateNAV(c *gin.Context) {
	var req calculateNAVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(errors.KindInvalidFund, err, "invalid request body"))
		return
	}
	from, to, err := parseDateRange(req.FromDate, req.ToDate)
	if err != nil {
		respondError(c, err)
		return
	}

	nav, err := s.nav.CurrentNAV(c.Request.Context(), req.FundID)
	if err != nil {
		respondError(c, err)
		return
	}
	orders, err := s.store.OrdersByFund(c.Request.Context(), req.FundID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	transactions := make([]navTransaction, 0, len(orders))
	profitable, failed := 0, 0
	for _, order := range orders {
		quote, qerr := s.calc.QuoteAtNAV(order.Units, nav, order.InterestRate, order.TermMonths)
		if qerr != nil {
			// Unpriceable orders stay in the report with their reason.
			failed++
			transactions = append(transactions, navTransaction{Order: order, Reason: qerr.Error()})
			continue
		}
		ok := pricing.EvaluateWith(quote.Delta, req.CapLower, req.CapUpper)
		if ok {
			profitable++
		}
		transactions = append(transactions, navTransaction{
			Order:         order,
			Price1:        quote.Price1,
			Price2:        quote.Price2,
			ConvertedRate: quote.ConvertedRate,
			Delta:         quote.Delta,
			Profitable:    ok,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"totals": gin.H{
			"total":      len(transactions),
			"profitable": profitable,
			"failed":     failed,
		},
	})
}

func parseDateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	var from, to time.Time
	if fromRaw != "" {
		parsed, err := time.Parse(dateLayout, fromRaw)
		if err != nil {
			return from, to, errors.Wrap(errors.KindInvalidOrder, err, "invalid from date")
		}
		from = parsed
	}
	if toRaw != "" {
		parsed, err := time.Parse(dateLayout, toRaw)
		if err != nil {
			return from, to, errors.Wrap(errors.KindInvalidOrder, err, "invalid to date")
		}
		// The to date is inclusive in the API, exclusive in the store.
		to = parsed.AddDate(0, 0, 1)
	}
	return from, to, nil
}
