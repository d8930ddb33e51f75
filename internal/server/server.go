package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jiangjiechen/auction-arena/config"
	"github.com/jiangjiechen/auction-arena/internal/auction"
	"github.com/jiangjiechen/auction-arena/internal/store"
)

// Server exposes the monitor API for a running auction: bidder
// snapshots, the live auction state, the markdown log, archived
// sessions, and the input endpoint for human bidders.
type Server struct {
	e       *echo.Echo
	cfg     *config.Config
	archive store.Archive
	logger  *log.Logger

	mu          sync.RWMutex
	auctioneer  *auction.Auctioneer
	bidders     []auction.Bidder
	auctionHash string
}

func New(cfg *config.Config, archive store.Archive) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	s := &Server{e: e, cfg: cfg, archive: archive, logger: baseLogger}

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/auction", s.handleAuction)
	api.GET("/auction/log", s.handleAuctionLog)
	api.GET("/bidders", s.handleBidders)
	api.GET("/bidders/:name", s.handleBidder)
	api.GET("/human/:name", s.handleHumanStatus)
	api.POST("/human/:name/input", s.handleHumanInput)
	api.GET("/sessions", s.handleSessions)
	api.GET("/sessions/:hash/bidders", s.handleSessionBidders)

	return s
}

// AttachSession points the monitor endpoints at a live auction.
func (s *Server) AttachSession(hash string, a *auction.Auctioneer, bidders []auction.Bidder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctionHash = hash
	s.auctioneer = a
	s.bidders = bidders
}

func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Server.Address
	}
	s.logger.Printf("monitor listening on %s", addr)
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) session() (string, *auction.Auctioneer, []auction.Bidder) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auctionHash, s.auctioneer, s.bidders
}

func (s *Server) handleAuction(c echo.Context) error {
	hash, a, bidders := s.session()
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no auction in progress")
	}
	resp := map[string]interface{}{
		"auction_hash":    hash,
		"items_remaining": a.RemainingCount(),
		"highest_bid":     a.HighestBid(),
		"min_markup_pct":  a.MinMarkupPct(),
		"ended":           a.EndAuction(),
	}
	if item := a.CurItem(); item != nil {
		resp["current_item"] = item.DescString()
	}
	if leader := a.HighestBidder(); leader != nil {
		resp["highest_bidder"] = leader.Name()
	}
	statuses := a.GatherAllStatus(bidders)
	resp["bidder_status"] = statuses
	return c.JSON(200, resp)
}

func (s *Server) handleAuctionLog(c echo.Context) error {
	_, a, _ := s.session()
	if a == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no auction in progress")
	}
	withModels := c.QueryParam("models") == "true"
	return c.String(200, a.Log(nil, withModels))
}

func (s *Server) handleBidders(c echo.Context) error {
	_, _, bidders := s.session()
	if bidders == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no auction in progress")
	}
	monitors := make([]auction.Monitor, 0, len(bidders))
	for _, b := range bidders {
		monitors = append(monitors, b.Snapshot())
	}
	return c.JSON(200, monitors)
}

func (s *Server) handleBidder(c echo.Context) error {
	b, err := s.findBidder(c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(200, b.Snapshot())
}

func (s *Server) handleHumanStatus(c echo.Context) error {
	b, err := s.findBidder(c.Param("name"))
	if err != nil {
		return err
	}
	h, ok := b.(*auction.HumanBidder)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "not a human bidder")
	}
	return c.JSON(200, map[string]bool{"need_input": h.NeedsInput()})
}

func (s *Server) handleHumanInput(c echo.Context) error {
	b, err := s.findBidder(c.Param("name"))
	if err != nil {
		return err
	}
	h, ok := b.(*auction.HumanBidder)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "not a human bidder")
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !h.ProvideInput(req.Text) {
		return echo.NewHTTPError(http.StatusConflict, "bidder is not awaiting input")
	}
	return c.JSON(200, map[string]string{"status": "accepted"})
}

func (s *Server) handleSessions(c echo.Context) error {
	st, ok := s.archive.(*store.Store)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "session listing requires the postgres archive")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := st.ListSessions(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(200, records)
}

func (s *Server) handleSessionBidders(c echo.Context) error {
	st, ok := s.archive.(*store.Store)
	if !ok {
		return echo.NewHTTPError(http.StatusNotImplemented, "session listing requires the postgres archive")
	}
	repeat, _ := strconv.Atoi(c.QueryParam("repeat"))
	records, err := st.ListBidders(c.Request().Context(), c.Param("hash"), repeat)
	if err != nil {
		return err
	}
	return c.JSON(200, records)
}

func (s *Server) findBidder(name string) (auction.Bidder, error) {
	_, _, bidders := s.session()
	if bidders == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no auction in progress")
	}
	for _, b := range bidders {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown bidder %q", name))
}
