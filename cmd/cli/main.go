package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hamed0406/noticerelay/internal/queue"
	"github.com/hamed0406/noticerelay/internal/tracker"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cli <health|queue|tracker>")
	fmt.Fprintln(os.Stderr, "env: API_BASE (default http://localhost:8080), API_KEY")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}
	api = strings.TrimRight(api, "/")
	client := &http.Client{Timeout: 5 * time.Second}

	var err error
	switch os.Args[1] {
	case "health":
		err = health(client, api)
	case "queue":
		err = showQueue(client, api)
	case "tracker":
		err = showTracker(client, api)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func get(client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if k := os.Getenv("API_KEY"); k != "" {
		req.Header.Set("X-API-Key", k)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return b, fmt.Errorf("API returned status: %s", resp.Status)
	}
	return b, nil
}

func health(client *http.Client, api string) error {
	if _, err := get(client, api+"/healthz"); err != nil {
		return err
	}
	if _, err := get(client, api+"/readyz"); err != nil {
		fmt.Println("alive, baseline not taken yet")
		return nil
	}
	fmt.Println("ready")
	return nil
}

func showQueue(client *http.Client, api string) error {
	b, err := get(client, api+"/api/queue")
	if err != nil {
		return err
	}
	var snap queue.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SET\tID\tKIND\tRETRIES\tNEXT")
	for _, it := range snap.Retry {
		fmt.Fprintf(w, "retry\t%s\t%s\t%d\t%s\n", it.ID, it.Kind, it.RetryCount, time.Unix(it.NextRetryAt, 0).Format(time.RFC3339))
	}
	for _, it := range snap.Overflow {
		fmt.Fprintf(w, "overflow\t%s\t%s\t%d\t-\n", it.ID, it.Kind, it.RetryCount)
	}
	return w.Flush()
}

func showTracker(client *http.Client, api string) error {
	b, err := get(client, api+"/api/tracker")
	if err != nil {
		return err
	}
	var stats []tracker.Stat
	if err := json.Unmarshal(b, &stats); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPETITION\tKIND\tSEEN")
	for _, s := range stats {
		fmt.Fprintf(w, "%d\t%s\t%d\n", s.CompetitionID, s.Kind, s.Seen)
	}
	return w.Flush()
}
