package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pubcompat/internal/couchbase"
	"pubcompat/internal/logging"
	"pubcompat/internal/pub"
	"pubcompat/internal/pub/consumer"
	"pubcompat/internal/pub/controller"
	"pubcompat/internal/pub/gcp"
	"pubcompat/internal/pub/memory"
	"pubcompat/internal/pub/metrics"
	"pubcompat/internal/pub/producer"
	"pubcompat/internal/pub/publisher"
	"pubcompat/internal/pub/tracing"
)

const (
	transportCouchbase = "couchbase"
	transportMemory    = "memory"
	transportGCP       = "gcp"
)

type Config struct {
	Transport                 string        `env:"TRANSPORT" envDefault:"couchbase"`
	Topic                     string        `env:"TOPIC" envDefault:"orders"`
	PropertiesFile            string        `env:"PROPERTIES_FILE"`
	CouchbaseConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	CouchbaseUsername         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	CouchbasePassword         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	CouchbaseBucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"pubsub"`
	CouchbaseScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"default"`
	TransactionTimeout        time.Duration `env:"COUCHBASE_TRANSACTION_TIMEOUT" envDefault:"10s"`
	GCPProject                string        `env:"GCP_PROJECT" envDefault:"pubcompat-e2e"`
	ConsumerBatchSize         int           `env:"CONSUMER_BATCH_SIZE" envDefault:"50"`
	ConsumerMaxEmptyCount     int           `env:"CONSUMER_MAX_EMPTY_COUNT" envDefault:"2"`
	EventCount                int           `env:"EVENT_COUNT" envDefault:"100"`
	PublishRounds             int           `env:"PUBLISH_ROUNDS" envDefault:"1"`
	CloseTimeout              time.Duration `env:"CLOSE_TIMEOUT" envDefault:"30s"`
	Logging                   logging.Config
	Metrics                   metrics.ServerConfig
	Tracing                   tracing.Config
}

// transport is what the producer publishes through, plus the controller the
// verification consumer reads from when the transport is backed by one.
type transport struct {
	factory    pub.PublisherFactory
	admin      pub.TopicAdmin
	controller pub.Controller
	close      func()
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	logger, syncLogs, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = syncLogs() }()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("e2e-"+cfg.Transport, time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)
	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	tr, err := newTransport(ctx, cfg, logger, metricsRegistry, tracer)
	if err != nil {
		logger.Fatal("failed to build transport", zap.String("transport", cfg.Transport), zap.Error(err))
	}
	defer tr.close()

	props, err := properties(cfg)
	if err != nil {
		logger.Fatal("failed to load producer properties", zap.Error(err))
	}

	baseProducer, err := producer.New(ctx, props, tr.factory,
		producer.WithLogger(logger),
		producer.WithTopicAdmin(tr.admin),
	)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	metricsProducer := producer.NewMetricsProducer(baseProducer, metricsRegistry)
	p := producer.NewTracedProducer(metricsProducer, tracer)
	metricsServer.SetReady(true)

	now := time.Now()
	var acked, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for round := range cfg.PublishRounds {
			for i, order := range orders(cfg.EventCount) {
				record := pub.NewKeyedRecord(cfg.Topic, order["customer_id"], order)
				record.Headers = map[string]string{"round": fmt.Sprint(round), "type": "order"}
				_, err := p.Send(gctx, record, func(_ *pub.RecordMetadata, err error) {
					if err != nil {
						failed.Add(1)
						logger.Warn("send failed", zap.Int("order", i), zap.Error(err))
						return
					}
					acked.Add(1)
				})
				if err != nil {
					return fmt.Errorf("failed to send order %d: %w", i, err)
				}
			}

			if err := p.Flush(gctx); err != nil {
				return fmt.Errorf("failed to flush round %d: %w", round, err)
			}
			logger.Info("round published", zap.Int("round", round), zap.Int64("acked", acked.Load()))
		}

		if err := p.CloseWithTimeout(cfg.CloseTimeout); err != nil {
			return fmt.Errorf("failed to close producer: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("producer run failed", zap.Error(err))
		// Close is idempotent; this only acts when the run stopped before closing.
		if err := p.CloseWithTimeout(cfg.CloseTimeout); err != nil {
			logger.Error("failed to close producer", zap.Error(err))
		}
	}
	select {
	case <-baseProducer.Done():
	case <-time.After(cfg.CloseTimeout):
		logger.Warn("producer still draining", zap.Int("pending", baseProducer.Pending()))
	}
	metricsServer.SetReady(false)

	logger.Info("producer finished",
		zap.Int64("acked", acked.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(now)),
	)

	if tr.controller != nil {
		received, err := verify(ctx, cfg, logger, tr.controller, metricsRegistry, tracer)
		if err != nil {
			logger.Error("verification failed", zap.Error(err))
		}
		if int64(received) != acked.Load() {
			logger.Error("delivered count does not match acknowledged sends",
				zap.Int("received", received),
				zap.Int64("acked", acked.Load()),
			)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	fmt.Printf("\n\n TEST COMPLETE IN %.2f seconds\n", time.Since(now).Seconds())
}

func newTransport(
	ctx context.Context,
	cfg Config,
	logger *zap.Logger,
	registry *metrics.Registry,
	tracer *tracing.Tracer,
) (transport, error) {
	switch cfg.Transport {
	case transportCouchbase:
		ctlr, closeCluster, err := newCouchbaseController(cfg, registry, tracer)
		if err != nil {
			return transport{}, err
		}
		return transport{
			factory:    publisher.NewFactory(ctlr, publisher.WithLogger(logger), publisher.WithMetrics(registry), publisher.WithTracer(tracer)),
			admin:      ctlr,
			controller: ctlr,
			close:      closeCluster,
		}, nil

	case transportMemory:
		ctlr := memory.NewController()
		return transport{
			factory:    publisher.NewFactory(ctlr, publisher.WithLogger(logger), publisher.WithMetrics(registry), publisher.WithTracer(tracer)),
			admin:      ctlr,
			controller: ctlr,
			close:      func() {},
		}, nil

	case transportGCP:
		// PUBSUB_EMULATOR_HOST is honoured by the client itself.
		client, err := pubsub.NewClient(ctx, cfg.GCPProject)
		if err != nil {
			return transport{}, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		return transport{
			factory: gcp.NewFactory(client, cfg.GCPProject, logger),
			admin:   gcp.NewAdmin(client, cfg.GCPProject),
			close:   func() { _ = client.Close() },
		}, nil
	}

	return transport{}, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func newCouchbaseController(cfg Config, registry *metrics.Registry, tracer *tracing.Tracer) (pub.Controller, func(), error) {
	cluster, bucket, err := newCouchbase(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
	}
	closeCluster := func() { _ = cluster.Close(nil) }

	topics, err := pub.NewTopicsStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create topics store: %w", err)
	}
	cursors, err := pub.NewCursorsStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cursors store: %w", err)
	}
	leases, err := pub.NewLeasesStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create leases store: %w", err)
	}
	messages, err := pub.NewMessagesStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create messages store: %w", err)
	}
	offsets, err := pub.NewOffsetsStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create offsets store: %w", err)
	}

	transactions, err := couchbase.NewTransactions(cluster, cfg.TransactionTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transactions: %w", err)
	}

	baseController, err := controller.NewController(
		topics,
		cursors,
		leases,
		messages,
		offsets,
		transactions,
		cfg.CouchbaseBucketName,
		cfg.CouchbaseScopeName,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create controller: %w", err)
	}

	metricsController := controller.NewMetricsController(baseController, registry)
	return controller.NewTracedController(metricsController, tracer), closeCluster, nil
}

// properties loads the producer properties file, or falls back to JSON values
// keyed by customer.
func properties(cfg Config) (map[string]any, error) {
	if cfg.PropertiesFile == "" {
		return map[string]any{
			producer.PropProject:          cfg.GCPProject,
			producer.PropTopics:           cfg.Topic,
			producer.PropAutoCreateTopics: true,
			producer.PropKeySerializer:    "string",
			producer.PropValueSerializer:  "json",
			producer.PropLingerMs:         5,
		}, nil
	}

	data, err := os.ReadFile(cfg.PropertiesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.PropertiesFile, err)
	}

	format := strings.TrimPrefix(filepath.Ext(cfg.PropertiesFile), ".")
	return producer.LoadProperties(data, format)
}

// verify reads the topic back through the lease/cursor consumer on several
// subscriptions and returns how many messages the first one received.
func verify(
	ctx context.Context,
	cfg Config,
	logger *zap.Logger,
	ctlr pub.Controller,
	registry *metrics.Registry,
	tracer *tracing.Tracer,
) (int, error) {
	subs := []string{"analytics", "billing", "alerts"}
	counts := make([]atomic.Int64, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		handler := func(_ context.Context, msg pub.Message) error {
			counts[i].Add(1)
			logger.Debug("message delivered",
				zap.String("sub", sub),
				zap.Uint64("offset", msg.Offset),
				zap.String("key", msg.Attributes[pub.AttrKey]),
			)
			return nil
		}

		baseConsumer, err := consumer.NewConsumer(ctlr, handler, logger, cfg.ConsumerBatchSize)
		if err != nil {
			return 0, fmt.Errorf("failed to create consumer: %w", err)
		}
		c := consumer.NewTracedConsumer(consumer.NewMetricsConsumer(baseConsumer, registry), tracer)

		g.Go(func() error {
			return consume(gctx, logger, c, cfg.Topic, sub, cfg.ConsumerMaxEmptyCount)
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i, sub := range subs {
		logger.Info("subscription drained", zap.String("sub", sub), zap.Int64("received", counts[i].Load()))
	}

	return int(counts[0].Load()), nil
}

func consume(ctx context.Context, logger *zap.Logger, c pub.Consumer, topic, sub string, maxEmpty int) error {
	var empty int
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			pulled, err := c.Pull(ctx, topic, sub, 0)
			if err != nil {
				return fmt.Errorf("failed to pull messages for %s: %w", sub, err)
			}
			switch {
			case pulled == 0:
				empty++
				if empty >= maxEmpty {
					logger.Info("subscription idle, stopping consumer", zap.String("sub", sub))
					return nil
				}
			default:
				empty = 0
			}
		}
	}
}

func orders(count int) []map[string]any {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	orders := make([]map[string]any, 0, count)

	for i := range count {
		orders = append(orders, map[string]any{
			"order_id":    fmt.Sprintf("ORD-%04d", i+1),
			"customer_id": customers[rand.Intn(len(customers))],
			"product_id":  products[rand.Intn(len(products))],
			"amount":      10.0 + rand.Float64()*990.0,
			"timestamp":   time.Now().Format(time.RFC3339),
		})
	}

	return orders
}

func newCouchbase(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.CouchbaseConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.CouchbaseUsername,
			Password: config.CouchbasePassword,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.CouchbaseBucketName)

	err = bucket.WaitUntilReady(5*time.Second, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}
