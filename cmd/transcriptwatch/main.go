// Transcript Watch - tails the transcript topics and prints each event.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"sauc-asr-client/internal/events"
	"sauc-asr-client/internal/observability/logging"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "asr.transcript.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "asr.transcript.final", "Final transcript topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	flag.Parse()

	logging.Init(logging.DefaultConfig())

	consumer, err := events.NewConsumer(events.ConsumerConfig{
		Brokers: strings.Split(*brokers, ","),
		Topics:  []string{*topicPartial, *topicFinal},
		Since:   *since,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create consumer")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = consumer.Run(ctx, func(ev *events.Event) {
		kind := "partial"
		if ev.Final != nil {
			kind = "final"
		}
		fmt.Fprintf(os.Stdout, "%-7s %s %s\n", kind, ev.Key, ev.Text())
	})
	if err != nil {
		log.Error().Err(err).Msg("Consumer stopped")
	}
}
