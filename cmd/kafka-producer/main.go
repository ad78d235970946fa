package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/leaderboard-sync/internal/domain"
	"github.com/leaderboard-sync/internal/kafka"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func playerName(idx int) string {
	return fmt.Sprintf("%s%d", playerPrefixes[idx%len(playerPrefixes)], idx/len(playerPrefixes)+1)
}

// registerPlayers creates players through the HTTP API and returns their ids
func registerPlayers(ctx context.Context, apiURL string, n int) ([]string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	ids := make([]string, 0, n)

	for i := 0; i < n; i++ {
		body, err := json.Marshal(domain.CreatePlayerRequest{Name: playerName(i)})
		if err != nil {
			return ids, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/players", bytes.NewReader(body))
		if err != nil {
			return ids, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return ids, fmt.Errorf("creating player %d: %w", i, err)
		}
		var player domain.Player
		err = json.NewDecoder(resp.Body).Decode(&player)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return ids, fmt.Errorf("creating player %d: status %d", i, resp.StatusCode)
		}
		if err != nil {
			return ids, fmt.Errorf("decoding player %d: %w", i, err)
		}
		ids = append(ids, player.ID)

		if (i+1)%50 == 0 || i+1 == n {
			fmt.Printf("\r  Registered: %d/%d players", i+1, n)
		}
	}
	fmt.Println()
	return ids, nil
}

// pickScore favours the first twenty players so the top of the board moves
func pickScore(ids []string) kafka.ScoreMessage {
	idx := rand.Intn(len(ids))
	if len(ids) > 20 && rand.Intn(100) < 70 {
		idx = rand.Intn(20)
	}

	var score int64
	switch {
	case idx < 10:
		score = int64(rand.Intn(800) + 400)
	case idx < 50:
		score = int64(rand.Intn(600) + 300)
	default:
		score = int64(rand.Intn(400) + 200)
	}
	return kafka.ScoreMessage{PlayerID: ids[idx], Score: score}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "leaderboard-scores", "Kafka topic")
	apiURL := flag.String("api", "http://localhost:8080", "Leaderboard API base URL used to register players")
	totalPlayers := flag.Int("players", 200, "Number of players to register")
	updatesPerSecond := flag.Int("rate", 100, "Score submissions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until interrupted)")
	flag.Parse()

	if *totalPlayers <= 0 || *updatesPerSecond <= 0 {
		log.Fatal("players and rate must be positive")
	}

	fmt.Println("Kafka leaderboard producer")
	fmt.Printf("  Brokers:     %s\n", *brokers)
	fmt.Printf("  Topic:       %s\n", *topic)
	fmt.Printf("  API:         %s\n", *apiURL)
	fmt.Printf("  Players:     %d\n", *totalPlayers)
	fmt.Printf("  Updates/sec: %d\n\n", *updatesPerSecond)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	ids, err := registerPlayers(ctx, strings.TrimRight(*apiURL, "/"), *totalPlayers)
	if err != nil {
		log.Fatalf("Failed to register players: %v", err)
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount, sentCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	fmt.Println("Streaming scores, press Ctrl+C to stop")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case <-ticker.C:
			msg := pickScore(ids)
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}
			select {
			case producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(msg.PlayerID),
				Value: sarama.ByteEncoder(data),
			}:
				atomic.AddInt64(&sentCount, 1)
			case <-ctx.Done():
				break loop
			}

		case <-statsTicker.C:
			fmt.Printf("[%s] Queued: %d | Acked: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sentCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}

	fmt.Println("\nShutting down...")
	producer.AsyncClose()
	wg.Wait()
	fmt.Printf("Completed. Acked: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
}
