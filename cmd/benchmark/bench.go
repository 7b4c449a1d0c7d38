package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nulzo/onellm-router/internal/cli"
	"github.com/nulzo/onellm-router/internal/gateway"
	"github.com/nulzo/onellm-router/pkg/api"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
	benchKey = "bench-key-12345"
)

var (
	streamChunks = [][]byte{
		[]byte("data: {\"id\":\"bench\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Bench\"}}]}\n\n"),
		[]byte("data: {\"id\":\"bench\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"mark\"}}]}\n\n"),
		[]byte("data: {\"id\":\"bench\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" safe\"}}]}\n\n"),
		[]byte("data: {\"id\":\"bench\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\" response\"},\"finish_reason\":\"stop\"}]}\n\n"),
	}
	streamDone = []byte("data: [DONE]\n\n")
	unaryResp  = []byte(`{"id":"bench-123","object":"chat.completion","created":1,"choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
)

type summary struct {
	Mode       string   `json:"mode"`
	Models     string   `json:"models"`
	P99        string   `json:"p99"`
	Mean       string   `json:"mean"`
	Max        string   `json:"max"`
	Success    float64  `json:"success"`
	Throughput float64  `json:"throughput"`
	Errors     []string `json:"errors,omitempty"`
}

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	stream := flag.Bool("stream", false, "Use streaming requests")
	fanout := flag.Int("fanout", 1, "Number of models named in each request (1-2)")
	chaos := flag.Bool("chaos", false, "Simulate random client disconnections")
	asJSON := flag.Bool("json", false, "Print the summary as JSON")
	flag.Parse()

	go startMockServer()

	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	configFile := "bench_config.yaml"
	if err := os.WriteFile(configFile, []byte(benchConfig), 0644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	defer os.Remove(configFile)

	fmt.Println("Starting application...")
	cmd := exec.Command("./bin/server")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CONFIG_FILE=%s", configFile),
		fmt.Sprintf("SERVER_PORT=%d", appPort),
		"LOG_LEVEL=error",
		"NO_COLOR=1",
	)

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}()

	appURL := fmt.Sprintf("http://localhost:%d", appPort)
	waitForApp(appURL + "/health")

	models := "gpt-3.5-turbo"
	if *fanout > 1 {
		models = "gpt-3.5-turbo,gpt-4"
	}

	chatURL := appURL + "/v1/chat/completions"
	if err := verifyStream(chatURL, models); err != nil {
		log.Fatalf("Stream verification failed: %v", err)
	}
	fmt.Println(cli.CheckMark(), "Stream verification passed")

	done := make(chan struct{})
	go monitorResources(appURL+"/metrics", done)

	mode := "Unary"
	if *stream {
		mode = "Streaming"
	}
	fmt.Printf("Running %s benchmark against %q: %s duration, %d req/s\n", mode, models, *duration, *rate)

	body, _ := json.Marshal(map[string]interface{}{
		"model":    models,
		"stream":   *stream,
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	})

	targeter := func(t *vegeta.Target) error {
		t.Method = http.MethodPost
		t.URL = chatURL
		t.Body = body
		t.Header = http.Header{
			"Content-Type":      []string{"application/json"},
			"Authorization":     []string{"Bearer " + benchKey},
			"X-Benchmark-Start": []string{strconv.FormatInt(time.Now().UnixNano(), 10)},
		}
		return nil
	}

	if *chaos {
		fmt.Println("CHAOS MODE ENABLED: Starting Chaos Monkey sidecar...")
		concurrency := *rate / 10
		if concurrency < 5 {
			concurrency = 5
		}
		if concurrency > 50 {
			concurrency = 50
		}
		go startChaosMonkey(chatURL, models, concurrency, done)
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics

	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()
	close(done)

	s := summary{
		Mode:       mode,
		Models:     models,
		P99:        metrics.Latencies.P99.String(),
		Mean:       metrics.Latencies.Mean.String(),
		Max:        metrics.Latencies.Max.String(),
		Success:    metrics.Success * 100,
		Throughput: metrics.Throughput,
		Errors:     firstUnique(metrics.Errors, 5),
	}

	if *asJSON {
		fmt.Println(cli.PrettyFormat(s))
		return
	}

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", s.P99)
	fmt.Println("Mean:            ", s.Mean)
	fmt.Println("Max:             ", s.Max)
	fmt.Printf("Success:         %.2f%%\n", s.Success)
	fmt.Printf("Throughput:      %.2f req/s\n", s.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(s.Errors) > 0 {
		fmt.Println("Error Set (first 5 unique):")
		for _, msg := range s.Errors {
			fmt.Println(cli.CrossMark(), msg)
		}
	}
}

// verifyStream sends one streaming request and checks that every named
// model's answer reassembles to the mock upstream's text.
func verifyStream(url, models string) error {
	body := fmt.Sprintf(`{"model": %q, "stream": true, "messages": [{"role": "user", "content": "Verify"}]}`, models)
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+benchKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var chunks []*api.ChatResponse
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		payload, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var chunk api.ChatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("bad chunk %q: %w", payload, err)
		}
		chunks = append(chunks, &chunk)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	collected := gateway.Collect(chunks)
	if want := len(strings.Split(models, ",")); len(collected) != want {
		return fmt.Errorf("got answers from %d models, want %d", len(collected), want)
	}
	for _, r := range collected {
		if len(r.Choices) == 0 || r.Choices[0].Error != nil {
			return fmt.Errorf("%s: no successful choice", r.Model)
		}
		if got := r.Choices[0].Message.Content.Text; got != "Benchmark safe response" {
			return fmt.Errorf("%s: reassembled %q", r.Model, got)
		}
	}
	return nil
}

func firstUnique(msgs []string, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, msg := range msgs {
		if seen[msg] {
			continue
		}
		seen[msg] = true
		out = append(out, msg)
		if len(out) == n {
			break
		}
	}
	return out
}

func startChaosMonkey(url, models string, concurrency int, done chan struct{}) {
	fmt.Printf("Starting Chaos Monkey with %d concurrent disrupters (random disconnects 1-200ms)\n", concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)

	payload := fmt.Sprintf(`{"model": %q, "stream": true, "messages": [{"role": "user", "content": "Chaos Request"}]}`, models)

	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			client := &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 100,
				},
			}

			for {
				select {
				case <-done:
					return
				default:
					timeout := time.Duration(rand.Intn(200)+1) * time.Millisecond

					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
					req.Header.Set("Content-Type", "application/json")
					req.Header.Set("Authorization", "Bearer "+benchKey)

					resp, err := client.Do(req)
					if err == nil {
						resp.Body.Close()
					}
					cancel()

					time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
}

func startMockServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"data": [
				{"id": "gpt-3.5-turbo", "object": "model", "created": 1687882411, "owned_by": "openai"},
				{"id": "gpt-4", "object": "model", "created": 1687882411, "owned_by": "openai"}
			]
		}`))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if startStr := r.Header.Get("X-Benchmark-Start"); startStr != "" {
			start, _ := strconv.ParseInt(startStr, 10, 64)
			// Sample 1% of requests to avoid console spam
			if rand.Intn(100) == 0 {
				fmt.Printf("DEBUG: Proxy Overhead: %v\n", time.Duration(time.Now().UnixNano()-start))
			}
		}

		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if val, ok := req["stream"].(bool); ok && val {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher, _ := w.(http.Flusher)

			for _, chunk := range streamChunks {
				time.Sleep(50 * time.Millisecond)
				_, _ = w.Write(chunk)
				flusher.Flush()
			}
			_, _ = w.Write(streamDone)
			flusher.Flush()
			return
		}

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(unaryResp)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

// monitorResources samples the server's own Prometheus process and Go
// runtime gauges once a second.
func monitorResources(metricsURL string, done chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	fmt.Println("\n--- Resource Usage (/metrics) ---")
	fmt.Printf("%-10s %-10s %-10s %-12s\n", "Time", "Heap(MB)", "RSS(MB)", "Goroutines")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			samples, err := scrape(metricsURL, "go_memstats_heap_inuse_bytes", "process_resident_memory_bytes", "go_goroutines")
			if err != nil {
				fmt.Printf("DEBUG: monitorResources failed to scrape metrics: %v\n", err)
				continue
			}

			fmt.Printf("%-10s %-10.2f %-10.2f %-12.0f\n",
				time.Now().Format("15:04:05"),
				samples["go_memstats_heap_inuse_bytes"]/1024/1024,
				samples["process_resident_memory_bytes"]/1024/1024,
				samples["go_goroutines"],
			)
		}
	}
}

// scrape reads unlabelled gauge samples from a Prometheus text exposition.
func scrape(url string, names ...string) (map[string]float64, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	out := make(map[string]float64, len(names))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || !want[fields[0]] {
			continue
		}
		if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
			out[fields[0]] = v
		}
	}
	return out, scanner.Err()
}

func waitForApp(url string) {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("App timed out")
}

var benchConfig = fmt.Sprintf(`
server:
  port: "%d"
  env: development
  api_key: %q
rate_limit:
  enabled: false
log:
  level: error
  format: json
cache:
  driver: memory
providers:
  openai:
    enabled: true
    api_key: "mock-key"
    base_url: "http://localhost:%d/v1"
  azure:
    enabled: false
  claude:
    enabled: false
  palm:
    enabled: false
`, appPort, benchKey, mockPort)
