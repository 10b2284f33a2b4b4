package main

import (
	"context"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/replypost-io/replypost/internal/address"
	"github.com/replypost-io/replypost/internal/config"
	"github.com/replypost-io/replypost/internal/handlers"
	"github.com/replypost-io/replypost/internal/inbound/poller"
	"github.com/replypost-io/replypost/internal/pipeline"
	"github.com/replypost-io/replypost/internal/replybody"
	"github.com/replypost-io/replypost/internal/store"
	"github.com/replypost-io/replypost/internal/token"
)

// app is the assembled application: the store, the dispatch pipeline, and
// the shared metrics registry.
type app struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *pipeline.Pipeline
	registry *pipeline.Registry
	metrics  *prometheus.Registry
	logger   *log.Logger
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := log.New(os.Stdout, "[REPLYPOST] ", log.LstdFlags)

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	registry := pipeline.NewRegistry(
		&handlers.CommentReplyHandler{Comments: st.Comments},
		&handlers.TopicHandler{Topics: st.Topics},
	)

	parser := address.NewParser(
		token.NewCodec(cfg.Token.Secret),
		address.WithRegisteredKeys(registry),
		address.WithParserLogger(logger),
	)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := pipeline.New(parser, &store.SenderResolver{Users: st.Users}, registry,
		pipeline.WithAddressing(address.Mode(cfg.Mailbox.AddressingMode), cfg.Mailbox.TagChar[0]),
		pipeline.WithBodyExtractor(replybody.NewExtractor(
			replybody.WithMarker(cfg.Reply.Marker),
			replybody.WithLogger(logger),
		)),
		pipeline.WithNotifier(&store.OutboxNotifier{Outbox: st.Outbox}),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(pipeline.NewMetrics(promReg)),
	)

	return &app{
		cfg:      cfg,
		store:    st,
		pipeline: p,
		registry: registry,
		metrics:  promReg,
		logger:   logger,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// markerStore picks Redis-backed markers when Redis is configured, so the
// web and poller processes share poller state; otherwise markers live on
// the local filesystem.
func (a *app) markerStore() poller.MarkerStore {
	if a.cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr(),
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		return poller.NewRedisMarkerStore(client, "", 0)
	}
	return &poller.FileMarkerStore{Dir: a.cfg.Poll.MarkerDir}
}

// buildPoller assembles a bounded polling run over the configured mailbox.
func (a *app) buildPoller() (*poller.Poller, poller.MarkerStore, error) {
	box := poller.Mailbox{
		Type:     a.cfg.Mailbox.Type,
		Host:     a.cfg.Mailbox.Host,
		Port:     a.cfg.Mailbox.Port,
		Username: a.cfg.Mailbox.Username,
		Password: a.cfg.Mailbox.Password,
		Folder:   a.cfg.Mailbox.Folder,
	}
	connector, err := poller.NewConnector(box, a.logger)
	if err != nil {
		return nil, nil, err
	}
	markers := a.markerStore()
	deliver := func(ctx context.Context, msg *pipeline.CanonicalMessage) error {
		_, err := a.pipeline.Process(ctx, msg)
		return err
	}
	p := poller.NewPoller(connector, box, deliver, markers,
		poller.WithMaxDuration(a.cfg.Poll.MaxDuration),
		poller.WithSleep(a.cfg.Poll.Sleep),
		poller.WithMaxReconnects(a.cfg.Poll.MaxReconnects),
		poller.WithAutoReconnect(a.cfg.Poll.AutoReconnect),
		poller.WithPollerLogger(a.logger),
	)
	return p, markers, nil
}
