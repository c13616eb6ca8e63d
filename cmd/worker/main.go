// Worker consumes session lifecycle events from Kafka and relays them to the
// notification channel. Set KAFKA_BROKERS, EVENTS_KAFKA_TOPIC, KAFKA_GROUP_ID,
// NOTIFY_BASE_URL, and NOTIFY_ADMIN_DESTINATION.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"remote-job-supervisor/internal/config"
	eventdomain "remote-job-supervisor/internal/events/domain"
	"remote-job-supervisor/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.EventsKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.NotifyBaseURL == "" {
		log.Fatal("worker: NOTIFY_BASE_URL is required")
	}
	if cfg.NotifyAdminDestination == "" {
		log.Fatal("worker: NOTIFY_ADMIN_DESTINATION is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.EventsKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	notifier := notify.NewHTTPNotifier(cfg.NotifyBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming from %s (group %s)", cfg.EventsKafkaTopic, cfg.KafkaGroupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		text := formatEvent(msg.Value)
		sendCtx, sendCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := notifier.Send(sendCtx, cfg.NotifyAdminDestination, text); err != nil {
			log.Printf("worker: notify failed: %v", err)
		}
		sendCancel()
	}
}

// formatEvent renders an event as a one-line notice. Malformed payloads are
// passed through raw so nothing is silently dropped.
func formatEvent(raw []byte) string {
	var ev eventdomain.Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		return string(raw)
	}
	switch ev.Type {
	case eventdomain.TypeBroadcast:
		return ev.Detail
	case eventdomain.TypeGrantIssued:
		return fmt.Sprintf("grant issued to %s (%s)", ev.UserID, ev.Detail)
	case eventdomain.TypeGrantRevoked:
		return fmt.Sprintf("grant revoked for %s", ev.UserID)
	}
	text := fmt.Sprintf("%s: session %s", ev.Type, ev.SessionID)
	if ev.UserID != "" {
		text += " user " + ev.UserID
	}
	if ev.ResourceID != "" {
		text += " on " + ev.ResourceID
	}
	if ev.Detail != "" {
		text += " (" + ev.Detail + ")"
	}
	return text
}
