package server

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sugawarayuuta/sonnet"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
	apierrors "github.com/Aidin1998/tradeguard/pkg/errors"
)

const maxAlertLimit = 1000

func (s *Server) writeProblem(c *gin.Context, p *apierrors.ProblemDetails) {
	if p.Instance == "" {
		p.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(p.Status, p)
}

func notFound(c *gin.Context) *apierrors.ProblemDetails {
	return apierrors.NewNotFoundError("no route for "+c.Request.Method+" "+c.Request.URL.Path, "")
}

func (s *Server) handleHealth(c *gin.Context) {
	state := s.engine.State()
	if state != surveillance.StateRunning {
		s.writeProblem(c, apierrors.NewEngineUnavailableError(state.String(), ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "state": state.String()})
}

func (s *Server) handleStats(c *gin.Context) {
	stats := s.engine.Statistics()
	c.JSON(http.StatusOK, gin.H{
		"state":        s.engine.State().String(),
		"stats":        stats,
		"top_patterns": stats.TopPatterns(),
	})
}

// handleSubmitTrades accepts one trade object or an array of them. Refused
// trades are reported in the body, never as a server error.
func (s *Server) handleSubmitTrades(c *gin.Context) {
	if state := s.engine.State(); state != surveillance.StateRunning {
		s.writeProblem(c, apierrors.NewEngineUnavailableError(state.String(), ""))
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		s.writeProblem(c, apierrors.NewValidationError(err, ""))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		s.writeProblem(c, apierrors.NewInvalidTradeError("empty request body", ""))
		return
	}

	var events []surveillance.TradeEvent
	if body[0] == '[' {
		err = sonnet.Unmarshal(body, &events)
	} else {
		var ev surveillance.TradeEvent
		err = sonnet.Unmarshal(body, &ev)
		events = append(events, ev)
	}
	if err != nil {
		s.writeProblem(c, apierrors.NewInvalidTradeError(err.Error(), ""))
		return
	}

	var accepted int
	if len(events) == 1 {
		if s.engine.Submit(events[0]) {
			accepted = 1
		}
	} else {
		accepted = s.engine.SubmitBatch(events)
	}
	c.JSON(http.StatusAccepted, gin.H{
		"received": len(events),
		"accepted": accepted,
		"refused":  len(events) - accepted,
	})
}

type quoteRequest struct {
	BidPrice    float64 `json:"bid_price" binding:"gte=0"`
	BidQuantity uint64  `json:"bid_quantity"`
	AskPrice    float64 `json:"ask_price" binding:"gte=0"`
	AskQuantity uint64  `json:"ask_quantity"`
}

func (s *Server) handleUpdateQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, apierrors.NewValidationError(err, ""))
		return
	}
	s.engine.UpdateQuote(c.Param("instrument"), surveillance.Quote{
		BidPrice:    req.BidPrice,
		BidQuantity: req.BidQuantity,
		AskPrice:    req.AskPrice,
		AskQuantity: req.AskQuantity,
		UpdatedAt:   time.Now(),
	})
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetAlerts(c *gin.Context) {
	if s.alerts == nil {
		s.writeProblem(c, apierrors.NewNotFoundError("alert storage is not configured", ""))
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAlertLimit {
			s.writeProblem(c, apierrors.NewProblemDetails(apierrors.TypeValidationError, apierrors.TitleValidationError,
				http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxAlertLimit), ""))
			return
		}
		limit = n
	}

	var (
		alerts []surveillance.Alert
		err    error
	)
	if pattern := c.Query("pattern"); pattern != "" {
		alerts, err = s.alerts.ByPattern(c.Request.Context(), pattern, limit)
	} else {
		alerts, err = s.alerts.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		s.logger.Sugar().Errorw("Alert query failed", "error", err)
		s.writeProblem(c, apierrors.NewInternalError("alert query failed", ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleGetPatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": s.engine.Patterns()})
}

func (s *Server) handleGetPattern(c *gin.Context) {
	name := c.Param("name")
	status, ok := s.engine.Pattern(name)
	if !ok {
		s.writeProblem(c, apierrors.NewPatternNotFoundError(name, ""))
		return
	}
	c.JSON(http.StatusOK, status)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (s *Server) handleTogglePattern(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, apierrors.NewValidationError(err, ""))
		return
	}
	name := c.Param("name")
	if !s.engine.TogglePattern(name, *req.Enabled) {
		s.writeProblem(c, apierrors.NewPatternNotFoundError(name, ""))
		return
	}
	status, _ := s.engine.Pattern(name)
	c.JSON(http.StatusOK, status)
}

// patternConfigRequest is a partial update; absent fields keep their value.
type patternConfigRequest struct {
	Enabled     *bool              `json:"enabled"`
	Sensitivity *float64           `json:"sensitivity" binding:"omitempty,gt=0,lte=1"`
	Threshold   *float64           `json:"threshold" binding:"omitempty,gte=0,lte=100"`
	Window      *string            `json:"window"`
	MinTrades   *int               `json:"min_trades" binding:"omitempty,gte=0"`
	Params      map[string]float64 `json:"params"`
}

func (r patternConfigRequest) override() (surveillance.PatternOverride, error) {
	o := surveillance.PatternOverride{
		Enabled:     r.Enabled,
		Sensitivity: r.Sensitivity,
		Threshold:   r.Threshold,
		MinTrades:   r.MinTrades,
		Params:      r.Params,
	}
	if r.Window != nil {
		d, err := time.ParseDuration(*r.Window)
		if err != nil {
			return o, err
		}
		o.Window = &d
	}
	return o, nil
}

func (s *Server) handleUpdatePatternConfig(c *gin.Context) {
	var req patternConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, apierrors.NewValidationError(err, ""))
		return
	}
	name := c.Param("name")
	current, ok := s.engine.Pattern(name)
	if !ok {
		s.writeProblem(c, apierrors.NewPatternNotFoundError(name, ""))
		return
	}
	o, err := req.override()
	if err != nil {
		s.writeProblem(c, apierrors.NewValidationError(err, ""))
		return
	}
	if o.Enabled == nil {
		enabled := current.Enabled
		o.Enabled = &enabled
	}
	if !s.engine.UpdatePatternConfig(name, o.Apply(current.Config)) {
		s.writeProblem(c, apierrors.NewInvalidConfigError("detector rejected the configuration", ""))
		return
	}
	status, _ := s.engine.Pattern(name)
	c.JSON(http.StatusOK, status)
}
