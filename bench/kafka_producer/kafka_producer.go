package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/models"
	"github.com/gocql/gocql"
)

// Publishes synthetic interaction events straight to Kafka to load the
// notification workers without going through the HTTP API.
func main() {
	var total, numWorkers, recipients int
	var broker, topic string

	flag.IntVar(&total, "n", 100000, "total number of events to send")
	flag.IntVar(&numWorkers, "c", 4, "number of parallel goroutines")
	flag.IntVar(&recipients, "recipients", 100, "number of distinct recipients")
	flag.StringVar(&broker, "broker", "localhost:9092", "Kafka broker")
	flag.StringVar(&topic, "topic", "interaction-events", "Kafka topic")
	flag.Parse()

	w, err := appkafka.NewKafkaWriter(appkafka.KafkaConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	if err != nil {
		panic(fmt.Sprintf("kafka writer init failed: %v", err))
	}
	defer w.Close()
	pub := appkafka.NewPublisher(w)

	// Unique actor for this run so its notifications are easy to find
	actor := "bench-" + gocql.TimeUUID().String()
	kinds := []models.NotificationKind{models.NotificationLike, models.NotificationComment, models.NotificationFollow}
	start := time.Now()

	var successCount uint64
	var failCount uint64

	jobs := make(chan int, total)
	var wg sync.WaitGroup

	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				kind := kinds[i%len(kinds)]
				postID := ""
				if kind != models.NotificationFollow {
					postID = fmt.Sprintf("bench_post_%d", i)
				}
				e := appkafka.NewEvent(kind, actor, fmt.Sprintf("bench-user-%d", i%recipients), postID)
				if err := pub.Publish(context.Background(), e); err != nil {
					atomic.AddUint64(&failCount, 1)
					fmt.Printf("write error: %v\n", err)
					continue
				}
				atomic.AddUint64(&successCount, 1)
			}
		}()
	}

	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// --- Benchmark results ---
	elapsed := time.Since(start)
	fmt.Printf("Total events: %d\n", total)
	fmt.Printf("Successful: %d, Failed: %d\n", successCount, failCount)
	fmt.Printf("Elapsed time: %s\n", elapsed)
	fmt.Printf("Throughput: %.2f events/s\n", float64(successCount)/elapsed.Seconds())
}
