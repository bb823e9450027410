// Package api exposes a gas station over HTTP.
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/logger"
	"github.com/vitwit/gasstation/types"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"

	correlationIDKey = "correlationID"
	callerKey        = "caller"
	rawBodyKey       = "rawBody"

	maxBodyBytes = 1 << 16
)

// Station is the set of station operations served over HTTP.
type Station interface {
	PayTransactionFee(ctx context.Context, caller types.Address, coin types.Coin) (types.Receipt, error)
	SetGasPrice(ctx context.Context, caller types.Address, newPrice uint64) error
	AddAdmin(ctx context.Context, caller, newAdmin types.Address) error
	RemoveAdmin(ctx context.Context, caller, target types.Address) error
	WithdrawFunds(ctx context.Context, caller types.Address) (uint64, error)
	Snapshot() types.State
	Events(f audit.Filter) []audit.Event
}

type Server struct {
	station  Station
	resolver IdentityResolver
	logger   logger.Logger
	decimals int
}

func NewServer(station Station, resolver IdentityResolver, log logger.Logger, decimals int) *Server {
	if resolver == nil {
		resolver = HeaderResolver{}
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Server{
		station:  station,
		resolver: resolver,
		logger:   log,
		decimals: decimals,
	}
}

// Router builds the gin engine with all routes registered. extra handlers,
// such as a metrics endpoint, are mounted as given.
func (s *Server) Router(extra map[string]http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.correlationID(), s.requestLogger())

	r.GET("/healthz", s.health)
	for path, h := range extra {
		r.GET(path, gin.WrapH(h))
	}

	v1 := r.Group("/v1/station")
	v1.GET("", s.getStation)
	v1.GET("/price", s.getPrice)
	v1.GET("/events", s.listEvents)

	authed := v1.Group("", s.authenticate())
	authed.POST("/pay", s.pay)
	authed.PUT("/price", s.setPrice)
	authed.POST("/admins", s.addAdmin)
	authed.DELETE("/admins/:address", s.removeAdmin)
	authed.POST("/withdraw", s.withdraw)

	return r
}

// correlationID tags every request with an id, reusing the caller's if sent.
func (s *Server) correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]any{
			"correlation_id": c.GetString(correlationIDKey),
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         c.Writer.Status(),
			"latency_ms":     time.Since(start).Milliseconds(),
			"client_ip":      c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("request failed", fields)
			return
		}
		s.logger.Debug("request served", fields)
	}
}

// authenticate reads the body once, resolves the caller from it and restores
// the body for binding.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil || len(body) > maxBodyBytes {
			abortWithError(c, http.StatusRequestEntityTooLarge, codeInvalidRequest, "request body too large", nil)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(rawBodyKey, body)

		caller, err := s.resolver.Resolve(c, body)
		if err != nil {
			s.logger.Warn("caller authentication failed", map[string]any{
				"correlation_id": c.GetString(correlationIDKey),
				"operation":      Operation(c),
				"error":          err,
			})
			abortWithError(c, http.StatusUnauthorized, codeUnauthenticated, err.Error(), nil)
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) types.Address {
	v, _ := c.Get(callerKey)
	addr, _ := v.(types.Address)
	return addr
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type stationResponse struct {
	types.State
	PriceDisplay   string `json:"priceDisplay"`
	BalanceDisplay string `json:"balanceDisplay"`
}

func (s *Server) getStation(c *gin.Context) {
	st := s.station.Snapshot()
	c.JSON(http.StatusOK, stationResponse{
		State:          st,
		PriceDisplay:   s.display(st.Price),
		BalanceDisplay: s.display(st.Balance),
	})
}

type priceResponse struct {
	Price        uint64         `json:"price"`
	PriceDisplay string         `json:"priceDisplay"`
	CoinType     types.CoinType `json:"coinType"`
}

func (s *Server) getPrice(c *gin.Context) {
	st := s.station.Snapshot()
	c.JSON(http.StatusOK, priceResponse{
		Price:        st.Price,
		PriceDisplay: s.display(st.Price),
		CoinType:     st.CoinType,
	})
}

type eventsResponse struct {
	Events []audit.Event `json:"events"`
}

func (s *Server) listEvents(c *gin.Context) {
	var f audit.Filter

	for _, raw := range c.QueryArray("kind") {
		kind, ok := audit.ParseKind(raw)
		if !ok {
			abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "unknown event kind "+strconv.Quote(raw), nil)
			return
		}
		f.Kinds = append(f.Kinds, kind)
	}

	if raw := c.Query("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "after must be a sequence number", nil)
			return
		}
		f.AfterSeq = after
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "since must be an RFC 3339 timestamp", nil)
			return
		}
		f.Since = since
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			abortWithError(c, http.StatusBadRequest, codeInvalidRequest, "limit must be a non-negative integer", nil)
			return
		}
		f.Limit = limit
	}

	events := s.station.Events(f)
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, eventsResponse{Events: events})
}
