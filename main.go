package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"example.com/photofeed/cmd/server"
	"example.com/photofeed/cmd/worker"
	"example.com/photofeed/internal/blob"
	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/cache"
	"example.com/photofeed/internal/feed"
	config "example.com/photofeed/internal/init"
	"example.com/photofeed/internal/profile"
	"example.com/photofeed/internal/relay"
	"example.com/photofeed/internal/store"
	"example.com/photofeed/internal/viewstate"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	mode := cfg.Mode

	// Initialize Cassandra document store
	st, err := store.New()
	if err != nil {
		log.Fatalf("Cassandra connection failed: %v", err)
	}
	defer st.Close()

	// Configure Kafka client parameters
	kafkaCfg := appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		Partition:    cfg.KafkaPartition,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "server":
		runServer(ctx, cfg, st, kafkaCfg)
	case "worker":
		// Consume interaction events and write notifications
		kafkaReader := appkafka.NewKafkaReader(kafkaCfg)
		w := worker.New(st, kafkaReader, 0, 0)
		w.Run(ctx)
		if err := kafkaReader.Close(); err != nil {
			log.Printf("Kafka reader close failed: %v", err)
		}
	default:
		log.Fatalf("unknown mode: %s", mode)
	}

	log.Println("Shutdown completed")
}

func runServer(ctx context.Context, cfg *config.Config, st *store.Store, kafkaCfg appkafka.KafkaConfig) {
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required in server mode")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	blobs, err := blob.NewS3Store()
	if err != nil {
		log.Fatalf("S3 client init failed: %v", err)
	}

	kafkaWriter, err := appkafka.NewKafkaWriter(kafkaCfg)
	if err != nil {
		log.Fatalf("Kafka writer init failed: %v", err)
	}
	defer kafkaWriter.Close()

	redisKV := cache.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword)
	defer redisKV.Close()
	profileURLs := cache.NewURLCache(redisKV, blobs, cfg.ProfileURLCacheTTL)

	agg := feed.NewAggregator(st, cfg.FeedFanout)
	builder := viewstate.NewBuilder(profileURLs, blobs, st, cfg.FeedFanout)
	sessions := feed.NewSessions(agg, builder, cfg.FeedSessionMax, cfg.FeedSessionIdle)
	rl := relay.New(st, blobs, appkafka.NewPublisher(kafkaWriter))
	profiles := profile.NewService(st, blobs)

	s := server.New(sessions, agg, builder, rl, profiles, []byte(cfg.JWTSecret))
	server.Run(ctx, s, cfg.ServerAddr, cfg.TLSCert, cfg.TLSKey)
}
