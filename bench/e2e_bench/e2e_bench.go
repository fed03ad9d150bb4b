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
	"os"
	"sync"
	"time"

	"example.com/photofeed/bench/stats"
)

// UserResp represents the server's response after sign-up.
type UserResp struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Post is the subset of a created post the bench needs.
type Post struct {
	ID string `json:"id"`
}

// Notification is the subset of an inbox entry the bench needs.
type Notification struct {
	Kind   string `json:"kind"`
	Actor  string `json:"actor"`
	PostID string `json:"post_id"`
}

// Measures how long a like takes to show up in the post owner's
// notifications: HTTP -> Kafka -> worker -> document store -> HTTP.
func main() {
	var serverAddr string
	var U, L, concurrency int
	var pollTimeout int

	flag.StringVar(&serverAddr, "server", "https://localhost:8080", "server base URL")
	flag.IntVar(&U, "users", 50, "number of users to create")
	flag.IntVar(&L, "likes", 100, "number of likes to send")
	flag.IntVar(&concurrency, "c", 20, "concurrency for liking")
	flag.IntVar(&pollTimeout, "timeout", 10, "seconds to wait for notification delivery")
	flag.Parse()

	ctx := context.Background()

	// --- TLS setup for secure communication ---
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
		Timeout: 10 * time.Second,
	}

	do := func(method, path, token string, body any, out any) error {
		var reader io.Reader
		if body != nil {
			b, _ := json.Marshal(body)
			reader = bytes.NewReader(b)
		}
		req, _ := http.NewRequestWithContext(ctx, method, serverAddr+path, reader)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	}

	// --- 1) Create users, each with one post ---
	fmt.Printf("Creating %d users with one post each...\n", U)
	users := make([]UserResp, 0, U)
	posts := make(map[string]string, U) // username -> post id
	for i := 0; i < U; i++ {
		name := fmt.Sprintf("user-%d-%d", i, time.Now().UnixNano())
		var ur UserResp
		body := map[string]any{"username": name, "email": name + "@bench.local", "profile_picture": []byte("avatar")}
		if err := do(http.MethodPost, "/users", "", body, &ur); err != nil {
			fmt.Printf("create user error: %v\n", err)
			os.Exit(1)
		}
		var p Post
		if err := do(http.MethodPost, "/posts", ur.Token, map[string]any{"image": []byte("img")}, &p); err != nil {
			fmt.Printf("create post error: %v\n", err)
			os.Exit(1)
		}
		users = append(users, ur)
		posts[ur.Username] = p.ID
	}
	fmt.Println("Users and posts created.")

	// --- 2) Send likes concurrently and poll the owners' inboxes ---
	fmt.Printf("Sending %d likes with concurrency %d...\n", L, concurrency)
	var latencies []float64
	var latMu sync.Mutex
	var failCount int

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for i := 0; i < L; i++ {
		liker := users[rand.Intn(len(users))]
		owner := users[rand.Intn(len(users))]
		if liker.Username == owner.Username {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(liker, owner UserResp) {
			defer wg.Done()
			defer func() { <-sem }()

			postID := posts[owner.Username]
			start := time.Now()
			if err := do(http.MethodPost, "/like", liker.Token, map[string]any{"owner": owner.Username, "post_id": postID, "liked": true}, nil); err != nil {
				fmt.Printf("like error: %v\n", err)
				return
			}

			deadline := time.Now().Add(time.Duration(pollTimeout) * time.Second)
			for time.Now().Before(deadline) {
				var inbox []Notification
				if err := do(http.MethodGet, "/notifications", owner.Token, nil, &inbox); err == nil {
					for _, n := range inbox {
						if n.Kind == "like" && n.Actor == liker.Username && n.PostID == postID {
							latMu.Lock()
							latencies = append(latencies, time.Since(start).Seconds()*1000)
							latMu.Unlock()
							return
						}
					}
				}
				time.Sleep(200 * time.Millisecond)
			}

			latMu.Lock()
			failCount++
			latMu.Unlock()
		}(liker, owner)
	}
	wg.Wait()

	// --- 3) Compute latency statistics and export to CSV ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
		return
	}
	fmt.Printf("Notification delivery (ms): %s fails=%d\n", stats.Summarize(latencies, 1.0), failCount)
	if err := stats.WriteCSV("e2e_latencies.csv", latencies); err != nil {
		fmt.Printf("Failed to write CSV: %v\n", err)
		return
	}
	fmt.Println("Saved e2e_latencies.csv")
}
