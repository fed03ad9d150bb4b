package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"example.com/photofeed/bench/stats"
)

// UserResp represents the response returned by the server after sign-up
type UserResp struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

func main() {
	// --- Command-line flags ---
	var server string
	var duration int
	var concurrency int
	var follows int
	var csvFile string
	var trimPercent float64

	flag.StringVar(&server, "server", "https://localhost:8080", "server base URL")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 50, "number of concurrent goroutines / users")
	flag.IntVar(&follows, "follows", 10, "follows per user")
	flag.StringVar(&csvFile, "csv", "feed_latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.Parse()

	// --- Load client certificate for mTLS ---
	cert, err := tls.LoadX509KeyPair("../../certs/cert.pem", "../../certs/key.pem")
	if err != nil {
		panic(fmt.Sprintf("failed to load cert/key: %v", err))
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
			},
		},
		Timeout: 30 * time.Second,
	}

	// --- Seed users, one post each, and a random follow graph ---
	fmt.Printf("Creating %d users with one post each...\n", concurrency)
	users := make([]UserResp, concurrency)
	for i := range users {
		users[i] = signUp(client, server, fmt.Sprintf("load-user-%d-%d", i, time.Now().UnixNano()))
		mustPost(client, server+"/posts", users[i].Token, map[string]any{
			"image":   []byte("bench-image"),
			"caption": fmt.Sprintf("load test post %d", i),
		})
	}
	for _, u := range users {
		for j := 0; j < follows; j++ {
			target := users[rand.Intn(len(users))]
			if target.Username == u.Username {
				continue
			}
			mustPost(client, server+"/follow", u.Token, map[string]any{"target": target.Username, "following": true})
		}
	}
	fmt.Println("Seed data created.")

	// --- Hammer GET /feed until the test duration ends ---
	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup

	var requests int64
	var successes int64
	var errors4xx int64
	var errors5xx int64

	latencySlices := make([][]float64, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			user := users[idx]
			var localLatencies []float64

			for time.Now().Before(stopTime) {
				start := time.Now()
				req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server+"/feed", nil)
				req.Header.Set("Authorization", "Bearer "+user.Token)

				resp, err := client.Do(req)
				localLatencies = append(localLatencies, time.Since(start).Seconds()*1000)
				atomic.AddInt64(&requests, 1)

				if err != nil {
					fmt.Printf("Request error: %v\n", err)
					continue
				}

				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					atomic.AddInt64(&successes, 1)
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					atomic.AddInt64(&errors4xx, 1)
				case resp.StatusCode >= 500:
					atomic.AddInt64(&errors5xx, 1)
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}

			latencySlices[idx] = localLatencies
		}(i)
	}

	wg.Wait()

	var allLatencies []float64
	for _, slice := range latencySlices {
		allLatencies = append(allLatencies, slice...)
	}

	fmt.Printf("Requests: %d  Successes: %d  4xx: %d  5xx: %d\n", requests, successes, errors4xx, errors5xx)
	fmt.Printf("Feed latency (ms): %s\n", stats.Summarize(allLatencies, trimPercent))

	if err := stats.WriteCSV(csvFile, allLatencies); err != nil {
		fmt.Printf("Failed to write CSV file: %v\n", err)
		return
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)
}

func signUp(client *http.Client, server, username string) UserResp {
	b, _ := json.Marshal(map[string]any{
		"username":        username,
		"email":           username + "@bench.local",
		"profile_picture": []byte("bench-avatar"),
	})
	resp, err := client.Post(server+"/users", "application/json", bytes.NewReader(b))
	if err != nil {
		panic(fmt.Sprintf("failed to create user: %v", err))
	}
	defer resp.Body.Close()

	var ur UserResp
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		panic(fmt.Sprintf("failed to decode user response: %v", err))
	}
	return ur
}

func mustPost(client *http.Client, url, token string, body any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		panic(fmt.Sprintf("request to %s failed: %v", url, err))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		panic(fmt.Sprintf("request to %s returned %d", url, resp.StatusCode))
	}
}
