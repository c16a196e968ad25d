// Package server exposes the task lifecycle, streaming and sharing
// operations over HTTP. Identity comes from the X-User-ID header set by the
// gateway in front; authentication itself lives outside this service.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/switchboardhq/switchboard/internal/executor"
	"github.com/switchboardhq/switchboard/internal/notify"
	"github.com/switchboardhq/switchboard/internal/repo"
	"github.com/switchboardhq/switchboard/internal/share"
	"github.com/switchboardhq/switchboard/internal/stream"
	"github.com/switchboardhq/switchboard/internal/task"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB       *gorm.DB
	Cache    *stream.Cache
	Codec    *share.TokenCodec
	Teardown executor.Teardown
	Repos    repo.Resolver
	Notify   *notify.Multi
	Port     int
	ChatTTL  int // append window hours for chat tasks
	CodeTTL  int // append window hours for code tasks
	Out      io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("server: db is required")
	}
	if opts.Cache == nil {
		return fmt.Errorf("server: cache is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchboard API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with all routes registered. Split out of
// Start for httptest use.
func NewRouter(opts StartOpts) *gin.Engine {
	teardown := opts.Teardown
	if teardown == nil {
		teardown = executor.Noop{}
	}
	notifier := opts.Notify
	if notifier == nil {
		notifier = notify.NewMulti()
	}

	mgr := task.NewManager(opts.DB, teardown, hours(opts.ChatTTL), hours(opts.CodeTTL))
	if opts.Repos != nil {
		mgr.SetRepoResolver(opts.Repos)
	}
	deps := &handlers{
		mgr:    mgr,
		coord:  stream.NewCoordinator(mgr, opts.Cache),
		notify: notifier,
	}
	if opts.Codec != nil {
		deps.share = share.NewEngine(opts.DB, opts.Codec)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, deps)
	return router
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
