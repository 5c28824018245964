package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/fedimag/activitypub"
	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Max 1MB request body size for inbound activities
const maxActivitySize = 1 * 1024 * 1024

// Store is the read side the handlers serve documents from.
type Store interface {
	activitypub.UserRepository
	activitypub.MagazineRepository
	activitypub.ContentRepository
	activitypub.ActivityRepository
	Moderators(ctx context.Context, m *domain.Magazine) ([]*domain.User, error)
	CountFollowers(ctx context.Context, actor domain.Actor) (int, error)
}

// RequestValidator authenticates a signed inbox request.
type RequestValidator interface {
	Validate(ctx context.Context, header http.Header, host string, body []byte, inboxPath string) (*activitypub.ActorDocument, error)
}

// ActivityProcessor handles an authenticated activity.
type ActivityProcessor interface {
	Process(ctx context.Context, body []byte) error
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Conf      *util.AppConfig
	Instance  domain.Instance
	Store     Store
	Builder   *activitypub.Builder
	Validator RequestValidator
	Inbox     ActivityProcessor
	// InstanceKeyPem is the public key of the instance actor.
	InstanceKeyPem string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Log     *zap.Logger
}

type server struct {
	Deps
	log *zap.Logger
}

// NewRouter builds the gin engine. The returned limiters must be run by the
// caller to forget idle clients.
func NewRouter(d Deps) (*gin.Engine, []*RateLimiter) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &server{Deps: d, log: log.Named("web")}

	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(s.log))
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))
	limiters := []*RateLimiter{globalLimiter}

	if d.Metrics != nil {
		g.GET("/metrics", gin.WrapH(d.Metrics))
	}

	if !d.Conf.Conf.WithAp {
		return g, limiters
	}

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET(activitypub.ExtensionContextPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, activitypub.ExtensionContext())
	})
	g.GET("/i/actor", s.handleInstanceActor)

	g.GET("/u/:username", s.handleUser)
	g.GET("/u/:username/followers", s.handleUserFollowers)
	g.GET("/u/:username/following", s.handleUserCollection("following"))
	g.GET("/u/:username/outbox", s.handleUserCollection("outbox"))

	g.GET("/m/:name", s.handleMagazine)
	g.GET("/m/:name/followers", s.handleMagazineFollowers)
	g.GET("/m/:name/moderators", s.handleModerators)
	g.GET("/m/:name/pinned", s.handleMagazineCollection("pinned"))
	g.GET("/m/:name/outbox", s.handleMagazineCollection("outbox"))

	g.GET("/m/:name/t/:id", s.handleContent)
	g.GET("/m/:name/p/:id", s.handleContent)
	g.GET("/m/:name/t/:id/-/comment/:comment", s.handleContent)
	g.GET("/m/:name/p/:id/-/reply/:comment", s.handleContent)
	g.GET("/activities/:id", s.handleActivity)

	// Stricter rate limit for inboxes: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	limiters = append(limiters, apLimiter)
	inbox := []gin.HandlerFunc{RateLimitMiddleware(apLimiter), MaxBytesMiddleware(maxActivitySize)}

	g.POST(d.Instance.SharedInboxPath, append(inbox, s.handleInbox)...)
	g.POST("/u/:username/inbox", append(inbox, s.requireUser, s.handleInbox)...)
	g.POST("/m/:name/inbox", append(inbox, s.requireMagazine, s.handleInbox)...)

	return g, limiters
}

// Serve runs the router on addr until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, d Deps) error {
	handler, limiters := NewRouter(d)
	for _, rl := range limiters {
		go rl.Run(ctx)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("HTTP: Starting server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("HTTP: Stopping server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func renderActivityJSON(c *gin.Context, code int, doc any) {
	c.Header("Content-Type", activitypub.ContentTypeActivity+"; charset=utf-8")
	c.JSON(code, doc)
}

func renderNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
}
