package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/event-ticketing/internal/adapters/rabbit"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

const auditQueue = "ezt.audit"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.ServiceName+"-audit-projector", cfg.LogLevel)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, auditQueue, "#")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		project(ctx, deliveries, audit, logger)
	}()
	logger.WithField("queue", auditQueue).Info("Audit projector started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
		logger.Warn("delivery channel closed")
	}
	logger.Info("Shutdown audit projector")
}

type recorder interface {
	Record(ctx context.Context, id, action string, at time.Time, payload []byte) error
}

func project(ctx context.Context, deliveries <-chan amqp.Delivery, audit recorder, logger observability.Logger) {
	for d := range deliveries {
		handle(ctx, d, d.Acknowledger, audit, logger)
	}
}

// handle records one delivery. Undecodable messages are dropped rather
// than redelivered forever; store failures are requeued.
func handle(ctx context.Context, d amqp.Delivery, ack amqp.Acknowledger, audit recorder, logger observability.Logger) {
	log := logger.WithFields(map[string]interface{}{
		"message_id":  d.MessageId,
		"routing_key": d.RoutingKey,
	})
	err := audit.Record(ctx, d.MessageId, d.RoutingKey, d.Timestamp, d.Body)
	switch {
	case err == nil:
		ack.Ack(d.DeliveryTag, false)
	case d.MessageId == "" || !json.Valid(d.Body):
		log.WithError(err).Warn("dropping unrecordable message")
		ack.Nack(d.DeliveryTag, false, false)
	default:
		log.WithError(err).Error("audit record failed, requeueing")
		ack.Nack(d.DeliveryTag, false, true)
	}
}
