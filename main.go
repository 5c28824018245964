package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/fedimag/activitypub"
	"github.com/deemkeen/fedimag/cache"
	"github.com/deemkeen/fedimag/db"
	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/queue"
	"github.com/deemkeen/fedimag/util"
	"github.com/deemkeen/fedimag/web"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	logger, err := newLogger(conf)
	if err != nil {
		log.Fatalln(err)
	}
	defer logger.Sync()

	logger.Info("Configuration",
		zap.String("version", util.GetNameAndVersion()),
		zap.String("host", conf.Conf.Host),
		zap.Int("httpPort", conf.Conf.HttpPort),
		zap.String("sslDomain", conf.Conf.SslDomain),
		zap.Bool("withAp", conf.Conf.WithAp),
		zap.String("inboxPath", conf.Conf.InboxPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger); err != nil {
		logger.Fatal("Stopped with error", zap.Error(err))
	}
	logger.Info("Stopped")
}

func newLogger(conf *util.AppConfig) (*zap.Logger, error) {
	if conf.Conf.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, conf *util.AppConfig, logger *zap.Logger) error {
	inst := domain.Instance{
		Domain:           conf.Conf.SslDomain,
		SharedInboxPath:  conf.Conf.InboxPath,
		CatchAllMagazine: conf.Conf.CatchAllMagazine,
	}

	store, err := db.Open(util.ResolveFilePath(conf.Conf.DatabasePath), inst, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := ensureCatchAll(ctx, store, inst); err != nil {
		return err
	}

	shared, closeCache := newCache(conf, logger)
	defer closeCache()

	keyPath := conf.Conf.InstanceKeyPath
	if keyPath == "" {
		keyPath = util.ResolveFilePathWithSubdir("keys", "instance.pem")
	}
	pair, err := util.LoadOrCreateKeyPair(keyPath, util.DefaultKeyBits)
	if err != nil {
		return err
	}
	instanceKey, err := activitypub.ParsePrivateKey(pair.Private)
	if err != nil {
		return fmt.Errorf("instance key: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := activitypub.NewMetrics(registry)

	client := activitypub.NewClient(inst, instanceKey, shared, store, logger,
		activitypub.WithTimeout(conf.Conf.RequestTimeout),
		activitypub.WithUserAgent(util.UserAgent(inst.Domain)),
		activitypub.WithMetrics(metrics))

	router := queue.NewRouter()
	pool := queue.NewPool(router, conf.Conf.Workers, logger)
	var tasks queue.Dispatcher = pool

	if conf.Conf.NatsUrl != "" {
		nc, err := nats.Connect(conf.Conf.NatsUrl, nats.Name(util.GetNameAndVersion()))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", conf.Conf.NatsUrl, err)
		}
		defer nc.Drain()

		if _, err := queue.Subscribe(nc, queue.DefaultSubjectPrefix, pool, logger); err != nil {
			return fmt.Errorf("failed to subscribe to tasks: %w", err)
		}
		tasks = queue.NewNatsDispatcher(nc, queue.DefaultSubjectPrefix)
		logger.Info("Dispatching federation tasks over NATS", zap.String("url", conf.Conf.NatsUrl))
	}

	builder := activitypub.NewBuilder(inst, store, client)
	outbox := activitypub.NewOutbox(activitypub.OutboxDeps{
		Instance:   inst,
		Enabled:    func() bool { return conf.Conf.WithAp },
		Users:      store,
		Magazines:  store,
		Contents:   store,
		Activities: store,
		Audience:   activitypub.NewAudience(inst, store, store, store),
		Builder:    builder,
		Tasks:      tasks,
		Poster:     client,
		Log:        logger,
	})
	outbox.Register(router)

	normalizer := activitypub.NewNormalizer(activitypub.NormalizerDeps{
		Instance:  inst,
		Users:     store,
		Magazines: store,
		Contents:  store,
		Policy:    store,
		Fetcher:   client,
		Markdown:  activitypub.NewMarkdownConverter(inst.Domain),
		Metrics:   metrics,
		Log:       logger,
	})
	inbox := activitypub.NewInbox(activitypub.InboxDeps{
		Instance:   inst,
		Normalizer: normalizer,
		Follows:    store,
		Activities: store,
		Fetcher:    client,
		Tasks:      tasks,
		Log:        logger,
	})

	pool.Start(ctx)
	defer pool.Stop()

	return web.Serve(ctx, fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort), web.Deps{
		Conf:           conf,
		Instance:       inst,
		Store:          store,
		Builder:        builder,
		Validator:      activitypub.NewValidator(client, metrics, logger),
		Inbox:          inbox,
		InstanceKeyPem: pair.Public,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Log:            logger,
	})
}

// ensureCatchAll creates the magazine unaddressed remote posts land in.
func ensureCatchAll(ctx context.Context, store *db.DB, inst domain.Instance) error {
	_, err := store.FindMagazineByName(ctx, inst.CatchAllMagazine)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	pair := util.GeneratePemKeypair()
	_, err = store.EnsureMagazine(ctx, inst.CatchAllMagazine, inst.CatchAllMagazine, pair.Public, pair.Private)
	return err
}

// newCache returns the shared Redis cache when one is configured, otherwise
// a cache private to this process.
func newCache(conf *util.AppConfig, logger *zap.Logger) (cache.Store, func()) {
	if conf.Conf.RedisAddr == "" {
		return cache.NewMemory(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: conf.Conf.RedisAddr})
	logger.Info("Using Redis cache", zap.String("addr", conf.Conf.RedisAddr))
	return cache.NewRedis(rdb, util.Name+":"), func() { rdb.Close() }
}
