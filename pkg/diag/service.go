package diag

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/Snider/NodeCore/pkg/diag/docs"
	"github.com/Snider/NodeCore/pkg/logging"
	"github.com/Snider/NodeCore/pkg/node"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/swaggo/swag"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// ConnectionSource is the narrow view of the running server a diagnostics
// surface needs. Satisfied by *server.Server; kept as an interface here so
// pkg/diag never imports pkg/server.
type ConnectionSource interface {
	ActiveCount() int
	Connections() []*node.Connection
	BanList() interface {
		List() map[string]time.Time
	}
}

// Service is a read-only gin router exposing process health, the live
// connection set and the peer registry for operators and the CLI's
// `status` subcommand.
type Service struct {
	source   ConnectionSource
	registry *node.PeerRegistry

	Router        *gin.Engine
	Server        *http.Server
	DisplayAddr   string
	BasePath      string
	SwaggerUIPath string
	instanceName  string

	rateLimiter *RateLimiter
}

// NewService builds a Service bound to a running server and peer registry.
// listenAddr is where the diagnostics HTTP server binds; displayAddr is
// what swagger should advertise as the host (useful when listenAddr is
// "0.0.0.0:...").
func NewService(source ConnectionSource, registry *node.PeerRegistry, listenAddr, displayAddr string) *Service {
	basePath := "/diag"
	swaggerUIPath := basePath + "/swagger"

	docs.SwaggerInfo.Title = "NodeCore Diagnostics API"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = displayAddr
	docs.SwaggerInfo.BasePath = basePath
	instanceName := "swagger_diag"
	swag.Register(instanceName, docs.SwaggerInfo)

	return &Service{
		source:        source,
		registry:      registry,
		DisplayAddr:   displayAddr,
		BasePath:      basePath,
		SwaggerUIPath: swaggerUIPath,
		instanceName:  instanceName,
		Server: &http.Server{
			Addr:              listenAddr,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// InitRouter builds the gin engine and registers all routes without
// starting the HTTP server, so Service.Router can be embedded elsewhere.
func (s *Service) InitRouter() {
	s.Router = gin.Default()

	port := "8090"
	if s.Server.Addr != "" {
		if _, p, err := net.SplitHostPort(s.Server.Addr); err == nil && p != "" {
			port = p
		}
	}

	corsConfig := cors.Config{
		AllowOrigins: []string{
			"http://localhost:" + port,
			"http://127.0.0.1:" + port,
		},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	s.Router.Use(cors.New(corsConfig))
	s.Router.Use(requestIDMiddleware())

	s.rateLimiter = NewRateLimiter(10, 20)
	s.Router.Use(s.rateLimiter.Middleware())

	s.SetupRoutes()
}

// Stop releases the rate limiter's background goroutine.
func (s *Service) Stop() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// ServiceStartup initializes the router and starts listening, confirming
// the server is actually accepting connections before returning.
func (s *Service) ServiceStartup(ctx context.Context) error {
	s.InitRouter()
	s.Server.Handler = s.Router

	errChan := make(chan error, 1)
	go func() {
		if err := s.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("diagnostics server error", logging.Fields{"addr": s.Server.Addr, "error": err.Error()})
			errChan <- err
		}
		close(errChan)
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			logging.Warn("diagnostics server shutdown error", logging.Fields{"error": err.Error()})
		}
	}()

	const maxRetries = 50
	for i := 0; i < maxRetries; i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("diag: failed to start server: %w", err)
			}
			return nil
		default:
			conn, err := net.DialTimeout("tcp", s.Server.Addr, 50*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	return fmt.Errorf("diag: server failed to start listening on %s within timeout", s.Server.Addr)
}

// SetupRoutes registers the diagnostics endpoints under BasePath plus the
// swagger UI. Exported so InitRouter and an embedder can both call it.
func (s *Service) SetupRoutes() {
	group := s.Router.Group(s.BasePath)
	{
		group.GET("/healthz", s.handleHealthz)
		group.GET("/peers", s.handlePeers)
		group.GET("/bans", s.handleBans)
	}

	swaggerURL := ginSwagger.URL(fmt.Sprintf("http://%s%s/doc.json", s.DisplayAddr, s.SwaggerUIPath))
	s.Router.GET(s.SwaggerUIPath+"/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, swaggerURL, ginSwagger.InstanceName(s.instanceName)))
}

type healthResponse struct {
	Timestamp         time.Time `json:"timestamp"`
	OS                string    `json:"os"`
	Architecture      string    `json:"architecture"`
	GoVersion         string    `json:"goVersion"`
	CPUCores          int       `json:"cpuCores"`
	CPUPercent        float64   `json:"cpuPercent"`
	TotalRAMGB        float64   `json:"totalRamGb"`
	UsedRAMPercent    float64   `json:"usedRamPercent"`
	ActiveConnections int       `json:"activeConnections"`
	BannedHosts       int       `json:"bannedHosts"`
}

// handleHealthz godoc
// @Summary Report process and connection health
// @Description Returns runtime and host resource usage alongside live connection counts.
// @Tags diagnostics
// @Produce json
// @Success 200 {object} healthResponse
// @Router /healthz [get]
func (s *Service) handleHealthz(c *gin.Context) {
	resp := healthResponse{
		Timestamp:    time.Now(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		GoVersion:    runtime.Version(),
		CPUCores:     runtime.NumCPU(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vMem, err := mem.VirtualMemory(); err == nil {
		resp.TotalRAMGB = float64(vMem.Total) / (1024 * 1024 * 1024)
		resp.UsedRAMPercent = vMem.UsedPercent
	}

	if s.source != nil {
		resp.ActiveConnections = s.source.ActiveCount()
		resp.BannedHosts = len(s.source.BanList().List())
	}

	c.JSON(http.StatusOK, resp)
}

type connectionInfo struct {
	NodeID    string `json:"nodeId"`
	NodeType  string `json:"nodeType"`
	Host      string `json:"host"`
	Direction string `json:"direction"`
	State     string `json:"state"`
}

// handlePeers godoc
// @Summary List established connections and known peer registry entries
// @Description Returns the live connection set alongside the peer registry snapshot.
// @Tags diagnostics
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /peers [get]
func (s *Service) handlePeers(c *gin.Context) {
	var conns []connectionInfo
	if s.source != nil {
		for _, conn := range s.source.Connections() {
			direction := "inbound"
			if conn.Direction() == node.DirectionOutbound {
				direction = "outbound"
			}
			conns = append(conns, connectionInfo{
				NodeID:    conn.PeerNodeID(),
				NodeType:  conn.PeerNodeType().String(),
				Host:      conn.PeerHost(),
				Direction: direction,
				State:     conn.StateNow().String(),
			})
		}
	}

	var known []*node.Peer
	if s.registry != nil {
		known = s.registry.ListPeers()
	}

	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"registry":    known,
	})
}

// handleBans godoc
// @Summary List currently banned hosts
// @Description Returns each banned host and when its ban expires.
// @Tags diagnostics
// @Produce json
// @Success 200 {object} map[string]string
// @Router /bans [get]
func (s *Service) handleBans(c *gin.Context) {
	if s.source == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	bans := s.source.BanList().List()
	out := make(map[string]string, len(bans))
	for host, until := range bans {
		out[host] = until.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, out)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%d-%s", time.Now().UnixMilli(), strings.ReplaceAll(c.Request.RemoteAddr, ":", ""))
		}
		c.Set("requestID", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
