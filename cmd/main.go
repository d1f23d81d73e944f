package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chat-delivery/internal/chat"
	"chat-delivery/internal/config"
	"chat-delivery/internal/delivery"
	"chat-delivery/internal/gateway"
	"chat-delivery/internal/infrastructure/kafka"
	"chat-delivery/internal/kv"
	"chat-delivery/internal/presence"
	"chat-delivery/internal/registry"
	"chat-delivery/internal/rooms"
	"chat-delivery/internal/store"
	"chat-delivery/internal/webhooks"

	"github.com/joho/godotenv"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Application recovered from panic: %v", r)
			os.Exit(1)
		}
	}()

	_ = godotenv.Load()

	// Load configuration
	cfg := config.LoadConfig()

	log.Printf("Starting Chat Delivery Server")
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Redis: %s:%s", cfg.RedisHost, cfg.RedisPort)
	log.Printf("Kafka Brokers: %v", cfg.KafkaBrokers)
	log.Printf("CORS Origins: %s", cfg.GetCORSOrigins())

	// Initialize components
	kvStore := kv.NewRedisStore(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)

	// Test Redis connection
	ctx := context.Background()
	if err := kvStore.Ping(ctx); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
	} else {
		log.Println("Redis connection successful")
	}

	chatStore := store.NewKVStore(kvStore)
	connRegistry := registry.NewRegistry(kvStore, cfg.Presence.SocketTTL)
	presenceEngine := presence.NewEngine(kvStore, cfg.Presence)

	kafkaProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaRoomTopic)
	router := rooms.NewRouter(chatStore, kafkaProducer)
	kafkaConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaRoomTopic, router)

	dispatcher := webhooks.NewDispatcher(cfg.Webhook)
	chatService := chat.NewService(chatStore, chatStore, router, presenceEngine, dispatcher)
	gw := gateway.NewGateway(cfg.JWTSecret, connRegistry, presenceEngine, router, chatService, chatStore, dispatcher)

	// Create server with configuration
	server := delivery.NewServer(cfg, gw, presenceEngine, chatStore)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		gw.Shutdown()
		cancel()
		if err := kafkaConsumer.Close(); err != nil {
			log.Printf("Error closing Kafka consumer: %v", err)
		}
		if err := kafkaProducer.Close(); err != nil {
			log.Printf("Error closing Kafka producer: %v", err)
		}
		// Let queued webhook deliveries finish before dropping the store.
		dispatcher.Wait()
		if err := kvStore.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
		os.Exit(0)
	}()

	log.Printf("Starting Kafka consumer and WebSocket server...")

	// Start Kafka consumer in background
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Kafka consumer goroutine recovered from panic: %v", r)
			}
		}()

		if err := kafkaConsumer.Start(ctx); err != nil {
			log.Printf("Kafka consumer error: %v", err)
		}
	}()

	// Start server (blocking)
	log.Fatal(server.Start())
}
