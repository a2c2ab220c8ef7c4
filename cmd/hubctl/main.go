// hubctl is a load-testing and operator CLI for a running hub instance:
// publish pings, subscribe/unsubscribe callbacks, and verify deliveries
// against the PubSubHubbub publish/subscribe/verify/deliver protocol.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexflint/go-arg"
	"golang.org/x/term"
)

type PublishCmd struct {
	URL   string   `arg:"--url,required" help:"hub base URL"`
	Topic []string `arg:"--topic,required,separate" help:"topic URL to ping (repeatable)"`
}

type SubscribeCmd struct {
	URL         string        `arg:"--url,required" help:"hub base URL"`
	Topic       string        `arg:"--topic,required" help:"topic URL to subscribe to"`
	Listen      string        `arg:"--listen" default:":9090" help:"local listen address for the callback receiver"`
	EndpointURL string        `arg:"--endpoint-url,required" help:"publicly reachable URL for this receiver"`
	Secret      string        `arg:"--secret" help:"hub.secret to request, enables X-Hub-Signature verification"`
	Verify      string        `arg:"--verify" default:"async" help:"hub.verify mode: sync or async"`
	Duration    time.Duration `arg:"--duration" default:"30s" help:"how long to listen for deliveries after verification"`
}

type BenchCmd struct {
	URL         string        `arg:"--url,required" help:"hub base URL"`
	Topic       string        `arg:"--topic,required" help:"topic URL to subscribe to and repeatedly publish"`
	Listen      string        `arg:"--listen" default:":9090" help:"local listen address for the callback receiver"`
	EndpointURL string        `arg:"--endpoint-url,required" help:"publicly reachable URL for this receiver"`
	Secret      string        `arg:"--secret" help:"hub.secret to request, enables X-Hub-Signature verification"`
	Rate        int           `arg:"--rate" default:"1" help:"publish pings per second"`
	Count       int           `arg:"--count" default:"20" help:"total publish pings to send"`
	Drain       time.Duration `arg:"--drain" default:"10s" help:"time to wait after the last ping for trailing deliveries"`
}

type cliArgs struct {
	Publish   *PublishCmd   `arg:"subcommand:publish" help:"ping the hub's /publish endpoint for one or more topics"`
	Subscribe *SubscribeCmd `arg:"subcommand:subscribe" help:"register a test subscription end to end, then report delivery count and inter-arrival times"`
	Bench     *BenchCmd     `arg:"subcommand:bench" help:"subscribe, then repeatedly publish under load, reporting delivery count and inter-arrival times"`
}

func (cliArgs) Description() string {
	return "hubctl — load testing and operator tool for a PubSubHubbub hub"
}

func main() {
	var a cliArgs
	p := arg.MustParse(&a)

	switch {
	case a.Publish != nil:
		runPublish(a.Publish)
	case a.Subscribe != nil:
		runSubscribe(a.Subscribe)
	case a.Bench != nil:
		runBench(a.Bench)
	default:
		p.WriteUsage(os.Stdout)
		fmt.Println()
		p.WriteHelp(os.Stdout)
		os.Exit(1)
	}
}

func runPublish(cmd *PublishCmd) {
	form := url.Values{}
	form.Set("hub.mode", "publish")
	for _, t := range cmd.Topic {
		form.Add("hub.url", t)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.PostForm(cmd.URL+"/publish", form)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		fmt.Fprintf(os.Stderr, "published %d topic(s)\n", len(cmd.Topic))
	case http.StatusServiceUnavailable:
		fmt.Fprintf(os.Stderr, "hub reported transient unavailability (retry after %s)\n", resp.Header.Get("Retry-After"))
		os.Exit(1)
	default:
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "unexpected status %d: %s\n", resp.StatusCode, body)
		os.Exit(1)
	}
}

// callbackReceiver answers the hub's verification GET handshake and records
// every delivery POST it receives, with signature verification when a
// secret was negotiated.
type callbackReceiver struct {
	secret string

	mu         sync.Mutex
	deliveries []time.Time
	verifiedAt time.Time
	badSigs    int
}

func (r *callbackReceiver) handler(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handleVerify(w, req)
	case http.MethodPost:
		r.handleDeliver(w, req)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerify implements the subscriber half of spec.md §4.4's handshake:
// echo hub.challenge verbatim with a 2xx.
func (r *callbackReceiver) handleVerify(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	challenge := q.Get("hub.challenge")
	if challenge == "" {
		http.Error(w, "missing hub.challenge", http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.verifiedAt = time.Now()
	r.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, challenge)
}

func (r *callbackReceiver) handleDeliver(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}

	if r.secret != "" {
		sig := req.Header.Get("X-Hub-Signature")
		if !validSignature(r.secret, body, sig) {
			r.mu.Lock()
			r.badSigs++
			r.mu.Unlock()
			http.Error(w, "bad signature", http.StatusForbidden)
			return
		}
	}

	r.mu.Lock()
	r.deliveries = append(r.deliveries, time.Now())
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func validSignature(secret string, body []byte, header string) bool {
	const prefix = "sha1="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header[len(prefix):]), []byte(want))
}

func subscribe(hubURL, topic, callback, secret, verify string) error {
	form := url.Values{}
	form.Set("hub.mode", "subscribe")
	form.Set("hub.topic", topic)
	form.Set("hub.callback", callback)
	form.Set("hub.verify", verify)
	if secret != "" {
		form.Set("hub.secret", secret)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.PostForm(hubURL+"/subscribe", form)
	if err != nil {
		return fmt.Errorf("subscribe request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusAccepted:
		return nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("subscribe rejected with status %d: %s", resp.StatusCode, body)
	}
}

func unsubscribe(hubURL, topic, callback string) error {
	form := url.Values{}
	form.Set("hub.mode", "unsubscribe")
	form.Set("hub.topic", topic)
	form.Set("hub.callback", callback)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.PostForm(hubURL+"/subscribe", form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func runSubscribe(cmd *SubscribeCmd) {
	receiver := &callbackReceiver{secret: cmd.Secret}
	mux := http.NewServeMux()
	mux.HandleFunc("/", receiver.handler)
	server := &http.Server{Addr: cmd.Listen, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "callback receiver error: %v\n", err)
		}
	}()
	defer shutdown(server)

	start := time.Now()
	fmt.Fprintf(os.Stderr, "Receiver listening on %s, subscribing to %s\n", cmd.Listen, cmd.Topic)

	if err := subscribe(cmd.URL, cmd.Topic, cmd.EndpointURL, cmd.Secret, cmd.Verify); err != nil {
		fmt.Fprintf(os.Stderr, "subscribe failed: %v\n", err)
		os.Exit(1)
	}

	waitForVerification(receiver, 15*time.Second)

	listenAndReport(receiver, start, cmd.Duration)

	if err := unsubscribe(cmd.URL, cmd.Topic, cmd.EndpointURL); err != nil {
		fmt.Fprintf(os.Stderr, "warning: unsubscribe failed: %v\n", err)
	}
}

func waitForVerification(r *callbackReceiver, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		verified := !r.verifiedAt.IsZero()
		r.mu.Unlock()
		if verified {
			fmt.Fprintf(os.Stderr, "Verified subscription\n")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "warning: no verification handshake observed within %s\n", timeout)
}

func listenAndReport(r *callbackReceiver, start time.Time, duration time.Duration) {
	width := progressWidth()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(duration)

loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-ticker.C:
			r.mu.Lock()
			n := len(r.deliveries)
			r.mu.Unlock()
			line := fmt.Sprintf("\rDeliveries: %d  Elapsed: %.0fs", n, time.Since(start).Seconds())
			fmt.Fprint(os.Stderr, padLine(line, width))
		}
	}

	r.mu.Lock()
	deliveries := append([]time.Time(nil), r.deliveries...)
	badSigs := r.badSigs
	r.mu.Unlock()

	fmt.Fprintf(os.Stderr, "\n=== Subscribe Summary ===\n")
	fmt.Fprintf(os.Stderr, "  Deliveries     : %d\n", len(deliveries))
	if badSigs > 0 {
		fmt.Fprintf(os.Stderr, "  Bad signatures : %d\n", badSigs)
	}
	reportInterArrival(deliveries)
	fmt.Fprintf(os.Stderr, "==========================\n")
}

func runBench(cmd *BenchCmd) {
	receiver := &callbackReceiver{secret: cmd.Secret}
	mux := http.NewServeMux()
	mux.HandleFunc("/", receiver.handler)
	server := &http.Server{Addr: cmd.Listen, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "callback receiver error: %v\n", err)
		}
	}()
	defer shutdown(server)

	fmt.Fprintf(os.Stderr, "Receiver listening on %s\n", cmd.Listen)
	if err := subscribe(cmd.URL, cmd.Topic, cmd.EndpointURL, cmd.Secret, "async"); err != nil {
		fmt.Fprintf(os.Stderr, "subscribe failed: %v\n", err)
		os.Exit(1)
	}
	waitForVerification(receiver, 15*time.Second)

	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(max(cmd.Rate, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pinged, pingErrors int64
	pingStart := time.Now()
	width := progressWidth()

	for i := 0; i < cmd.Count; i++ {
		<-ticker.C
		form := url.Values{}
		form.Set("hub.mode", "publish")
		form.Set("hub.url", cmd.Topic)
		resp, err := client.PostForm(cmd.URL+"/publish", form)
		if err != nil {
			atomic.AddInt64(&pingErrors, 1)
		} else {
			resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				atomic.AddInt64(&pingErrors, 1)
			}
		}
		n := atomic.AddInt64(&pinged, 1)
		line := fmt.Sprintf("\rPublished: %d/%d  Errors: %d", n, cmd.Count, atomic.LoadInt64(&pingErrors))
		fmt.Fprint(os.Stderr, padLine(line, width))
	}
	pingElapsed := time.Since(pingStart)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Publish complete: %d/%d (%d errors) in %.1fs\n", pinged, cmd.Count, pingErrors, pingElapsed.Seconds())

	fmt.Fprintf(os.Stderr, "Draining for %s...\n", cmd.Drain)
	time.Sleep(cmd.Drain)

	receiver.mu.Lock()
	deliveries := append([]time.Time(nil), receiver.deliveries...)
	badSigs := receiver.badSigs
	receiver.mu.Unlock()

	if err := unsubscribe(cmd.URL, cmd.Topic, cmd.EndpointURL); err != nil {
		fmt.Fprintf(os.Stderr, "warning: unsubscribe failed: %v\n", err)
	}

	fmt.Fprintf(os.Stderr, "\n=== Bench Summary ===\n")
	fmt.Fprintf(os.Stderr, "  Publish pings  : %d/%d (%d errors)\n", pinged, cmd.Count, pingErrors)
	fmt.Fprintf(os.Stderr, "  Deliveries     : %d\n", len(deliveries))
	if badSigs > 0 {
		fmt.Fprintf(os.Stderr, "  Bad signatures : %d\n", badSigs)
	}
	reportInterArrival(deliveries)
	fmt.Fprintf(os.Stderr, "=====================\n")
}

func reportInterArrival(deliveries []time.Time) {
	if len(deliveries) < 2 {
		fmt.Fprintf(os.Stderr, "  Inter-arrival  : not enough deliveries to measure\n")
		return
	}
	sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].Before(deliveries[j]) })
	gaps := make([]time.Duration, 0, len(deliveries)-1)
	for i := 1; i < len(deliveries); i++ {
		gaps = append(gaps, deliveries[i].Sub(deliveries[i-1]))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })

	var total time.Duration
	for _, g := range gaps {
		total += g
	}
	mean := total / time.Duration(len(gaps))
	p50 := gaps[len(gaps)*50/100]
	fmt.Fprintf(os.Stderr, "  Inter-arrival  : mean %.1fs, median %.1fs\n", mean.Seconds(), p50.Seconds())
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

// progressWidth picks a line width for clearing the progress line, falling
// back to 80 columns when stderr isn't a terminal (piped output, CI).
func progressWidth() int {
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func padLine(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + string(bytes.Repeat([]byte{' '}, width-len(s)))
}

