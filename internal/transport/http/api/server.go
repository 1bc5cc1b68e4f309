// Package api 提供信号、回测、walk-forward 与验证的 HTTP 接口。
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stuntman/internal/backtest"
	"stuntman/internal/config/writer"
	"stuntman/internal/decision"
	"stuntman/internal/gateway/database"
	"stuntman/internal/logger"
	"stuntman/internal/market"
	"stuntman/internal/service"
	"stuntman/internal/strategy"
	"stuntman/internal/transport/http/criteria"
	"stuntman/internal/transport/http/ui"
	"stuntman/internal/validation"
)

// Engine 是 handler 依赖的服务面，*service.Service 实现它。
type Engine interface {
	Signal(ctx context.Context, req service.DataRequest) (decision.Signal, error)
	Backtest(ctx context.Context, req service.BacktestRequest) (service.BacktestReport, error)
	BacktestAll(ctx context.Context, req service.DataRequest, names []string) ([]service.BacktestReport, error)
	WalkForward(ctx context.Context, req service.WalkForwardRequest) (service.WalkForwardReport, error)
	Runs(ctx context.Context, limit int) ([]database.RunRecord, error)
	Run(ctx context.Context, id string) (database.RunRecord, []backtest.Trade, error)
	Validation(ctx context.Context, name, preset string) (validation.Report, error)
	Ready(ctx context.Context, preset string) ([]string, error)
	Rank(ctx context.Context, preset string) ([]validation.Ranked, error)
	Jobs() []service.Job
	Job(id string) (service.Job, bool)
	StrategyNames() []string
}

type Config struct {
	Addr     string
	APIKey   string
	Engine   Engine
	Criteria *writer.CriteriaWriter
}

// Server Gin 服务。
type Server struct {
	addr      string
	apiKey    string
	engine    Engine
	router    *gin.Engine
	indexHTML []byte
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	staticFS, err := ui.StaticFS()
	if err != nil {
		return nil, fmt.Errorf("加载前端静态资源失败: %w", err)
	}
	indexHTML, err := ui.Index()
	if err != nil {
		return nil, fmt.Errorf("加载前端首页失败: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), accessLog())
	router.StaticFS("/static", staticFS)

	s := &Server{
		addr:      cfg.Addr,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		engine:    cfg.Engine,
		router:    router,
		indexHTML: indexHTML,
	}
	s.registerRoutes(cfg.Criteria)
	return s, nil
}

// Handler 暴露路由，便于 httptest 使用。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes(cw *writer.CriteriaWriter) {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.requireKey())
	api.POST("/signal", s.handleSignal)
	api.POST("/backtest", s.handleBacktest)
	api.POST("/backtest/all", s.handleBacktestAll)
	api.POST("/walkforward", s.handleWalkForward)
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:id", s.handleRun)
	api.GET("/jobs", s.handleJobs)
	api.GET("/jobs/:id", s.handleJob)
	api.GET("/strategies", s.handleStrategies)
	api.GET("/strategies/ready", s.handleReady)
	api.GET("/strategies/rank", s.handleRank)
	api.GET("/validation/:strategy", s.handleValidation)
	if cw != nil {
		criteria.NewRouter(cw).Register(api.Group("/criteria"))
	}
}

// requireKey 配置了 api_key 时，写操作需要 X-API-Key。
func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		got := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
			logger.Warnf("[api] rejected %s %s from %s", c.Request.Method, c.Request.URL.Path, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[api] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.indexHTML)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "strategies": len(s.engine.StrategyNames())})
}

// statusFor 把领域错误映射到 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownStrategy),
		errors.Is(err, database.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrInvalidCandle),
		errors.Is(err, backtest.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Errorf("[api] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// bindOptional 允许空 body。
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleSignal(c *gin.Context) {
	var req service.DataRequest
	if !bindOptional(c, &req) {
		return
	}
	sig, err := s.engine.Signal(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal": sig})
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req service.BacktestRequest
	if !bindOptional(c, &req) {
		return
	}
	rep, err := s.engine.Backtest(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

func (s *Server) handleBacktestAll(c *gin.Context) {
	var req struct {
		service.DataRequest
		Strategies []string `json:"strategies"`
	}
	if !bindOptional(c, &req) {
		return
	}
	reps, err := s.engine.BacktestAll(c.Request.Context(), req.DataRequest, req.Strategies)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reps})
}

func (s *Server) handleWalkForward(c *gin.Context) {
	var req service.WalkForwardRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.WindowSize < 0 || req.StepSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_size/step_size 不能为负"})
		return
	}
	rep, err := s.engine.WalkForward(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

func (s *Server) handleRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	runs, err := s.engine.Runs(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRun(c *gin.Context) {
	run, trades, err := s.engine.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "trades": trades})
}

func (s *Server) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.engine.Jobs()})
}

func (s *Server) handleJob(c *gin.Context) {
	job, ok := s.engine.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.engine.StrategyNames(), "kinds": strategy.Kinds()})
}

func (s *Server) handleReady(c *gin.Context) {
	ready, err := s.engine.Ready(c.Request.Context(), c.Query("preset"))
	if err != nil {
		s.presetFail(c, err)
		return
	}
	if ready == nil {
		ready = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"ready": ready})
}

func (s *Server) handleRank(c *gin.Context) {
	ranking, err := s.engine.Rank(c.Request.Context(), c.Query("preset"))
	if err != nil {
		s.presetFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": ranking})
}

func (s *Server) handleValidation(c *gin.Context) {
	rep, err := s.engine.Validation(c.Request.Context(), c.Param("strategy"), c.Query("preset"))
	if err != nil {
		s.presetFail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep})
}

// presetFail 未知 preset 属于请求错误。
func (s *Server) presetFail(c *gin.Context, err error) {
	if errors.Is(err, validation.ErrUnknownPreset) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.fail(c, err)
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[api] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
