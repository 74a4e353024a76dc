// Package handlers exposes the attendance core over HTTP and websockets.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/anuragrao04/qr-attendance-core/broadcast"
	"github.com/anuragrao04/qr-attendance-core/clock"
	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type SessionService interface {
	OpenSession(ctx context.Context, courseID, department, year string) (models.Session, error)
	CloseSession(sessionID string) error
	Session(sessionID string) (models.Session, error)
}

type TokenService interface {
	IssueToken(sessionID string) (models.Token, error)
	RotateToken(sessionID string) (models.Token, error)
	CurrentToken(sessionID string) (models.Token, error)
}

type Scanner interface {
	SubmitScan(ctx context.Context, req models.ScanRequest) (models.ScanResult, error)
	CheckAccess(ctx context.Context, req models.CheckAccessRequest) (models.AccessReport, error)
}

type Verifier interface {
	Confirm(sessionID, studentID string) bool
	Window(sessionID, studentID string) (models.PendingVerification, bool)
}

type Subscriber interface {
	Subscribe(sessionID string) *broadcast.Subscription
}

// WebAuthn is the optional authenticator ceremony surface.
type WebAuthn interface {
	BeginRegistration(c *gin.Context)
	FinishRegistration(c *gin.Context)
	CheckRegistered(c *gin.Context)
	BeginVerification(c *gin.Context)
	FinishVerification(c *gin.Context)
}

type Deps struct {
	Sessions SessionService
	Tokens   TokenService
	Scanner  Scanner
	Verifier Verifier
	Events   Subscriber
	WebAuthn WebAuthn
	Clock    clock.Clock

	// AllowedOrigins lists browser origins that may open the event stream.
	// Empty means same-origin only.
	AllowedOrigins []string
	// VerifierKey guards the confirm endpoint. Empty disables it.
	VerifierKey string
}

type Handlers struct {
	Deps
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func New(deps Deps) *Handlers {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	h := &Handlers{Deps: deps, logger: slog.Default().With("module", "handlers")}
	if len(deps.AllowedOrigins) > 0 {
		allowed := make(map[string]bool, len(deps.AllowedOrigins))
		for _, o := range deps.AllowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
	return h
}

// Router builds the gin engine with every route mounted.
func (h *Handlers) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	router.POST("/sessions", h.OpenSession)
	router.GET("/sessions/:id", h.GetSession)
	router.POST("/sessions/:id/close", h.CloseSession)
	router.POST("/sessions/:id/token", h.RotateToken)
	router.GET("/sessions/:id/token", h.CurrentToken)
	router.GET("/sessions/:id/events", h.StreamEvents)

	router.POST("/attendance/scan", h.Scan)
	router.POST("/attendance/check-access", h.CheckAccess)

	router.POST("/verification/confirm", h.Confirm)
	router.GET("/verification/:sessionId/:studentId", h.WindowStatus)

	if h.WebAuthn != nil {
		router.POST("/auth/register/begin", h.WebAuthn.BeginRegistration)
		router.POST("/auth/register/finish", h.WebAuthn.FinishRegistration)
		router.GET("/auth/registered", h.WebAuthn.CheckRegistered)
		router.POST("/auth/verify/begin", h.WebAuthn.BeginVerification)
		router.POST("/auth/verify/finish", h.WebAuthn.FinishVerification)
	}
	return router
}

func (h *Handlers) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		h.logger.DebugContext(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(started))
	}
}
