// Package server wires the relationship service together and builds its
// HTTP router. main.go and the integration harness share it.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/socialgraph/api/rest"
	"github.com/kasuganosora/socialgraph/api/sse"
	apows "github.com/kasuganosora/socialgraph/api/ws"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	"github.com/kasuganosora/socialgraph/directory"
	"github.com/kasuganosora/socialgraph/friends"
	"github.com/kasuganosora/socialgraph/message"
	"github.com/kasuganosora/socialgraph/metrics"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/notify"
	"github.com/kasuganosora/socialgraph/relation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// App holds every wired component plus the gin engine serving them.
type App struct {
	Directory  *directory.Directory
	Store      *relation.Store
	Dispatcher *notify.Dispatcher
	Machine    *relation.Machine
	Messages   *message.Service
	Friends    *friends.Aggregator
	Engine     *gin.Engine
}

// New builds the components on top of an opened database, cache and pub/sub
// and registers every route.
func New(cfg *config.Config, db *gorm.DB, c cache.Cache, pubsub cache.PubSub, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	channel := notify.PrefixChannel(cfg.Realtime.ChannelPrefix)

	dir := directory.New(db, c)
	store := relation.NewStore(db)
	dispatcher := notify.NewDispatcher(pubsub, dir, channel, cfg.Realtime.PublishTimeout, logger.Named("notify"))
	machine := relation.NewMachine(store, dir, dispatcher, logger.Named("relation"))
	messages := message.NewService(db, c, logger.Named("message"))
	agg := friends.NewAggregator(store, dir, messages, messages, dir, friends.Config{
		Concurrency:       cfg.Friends.LookupConcurrency,
		PlaceholderPrefix: cfg.Friends.PlaceholderPrefix,
	}, logger.Named("friends"))

	app := &App{
		Directory:  dir,
		Store:      store,
		Dispatcher: dispatcher,
		Machine:    machine,
		Messages:   messages,
		Friends:    agg,
	}
	app.Engine = app.routes(cfg, db, c, pubsub, channel, logger)
	return app
}

func (a *App) routes(cfg *config.Config, db *gorm.DB, c cache.Cache, pubsub cache.PubSub, channel notify.ChannelFunc, logger *zap.Logger) *gin.Engine {
	sec := cfg.Security

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", mw.IPWhitelist(cfg.Server.MetricsAllowIPs), gin.WrapH(promhttp.Handler()))

	authH := apirest.NewAuthHandler(db, c, sec)
	relH := apirest.NewRelationshipHandler(a.Machine)
	friendsH := apirest.NewFriendsHandler(a.Friends)
	msgH := apirest.NewMessageHandler(a.Messages, a.Directory, logger.Named("rest"))

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

		authed := api.Group("")
		authed.Use(mw.Auth(sec, c))

		authed.PATCH("/users/me", authH.UpdateProfile)
		authed.GET("/users/suggested", friendsH.SuggestedUsers)
		authed.GET("/friends", friendsH.ListFriends)

		relG := authed.Group("/relationships")
		relG.POST("/requests", relH.Request)
		relG.GET("/requests/received", friendsH.ReceivedRequests)
		relG.GET("/requests/sent", friendsH.SentRequests)
		relG.POST("/requests/:id/respond", relH.Respond)
		relG.POST("/requests/:id/cancel", relH.Cancel)
		relG.POST("/remove", relH.Remove)
		relG.POST("/block", relH.Block)
		relG.POST("/unblock", relH.Unblock)
		relG.GET("/blocked", friendsH.BlockedUsers)

		authed.POST("/messages", msgH.Send)
		authed.POST("/messages/read", msgH.MarkRead)
	}

	sseH := sse.NewHandler(pubsub, c, sec, a.Directory, channel, cfg.Realtime.KeepAlive, logger.Named("sse"))
	r.GET("/events", sseH.ServeSSE)

	wsH := apows.NewHandler(pubsub, c, sec, a.Directory, a.Messages, channel, cfg.Realtime.KeepAlive, logger.Named("ws"))
	r.GET("/ws", wsH.ServeWS)

	return r
}

// RefreshRelationshipGauge recomputes the per-status row gauge.
func (a *App) RefreshRelationshipGauge(ctx context.Context) error {
	counts, err := a.Store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for status, n := range counts {
		metrics.Relationships.WithLabelValues(string(status)).Set(float64(n))
	}
	return nil
}
