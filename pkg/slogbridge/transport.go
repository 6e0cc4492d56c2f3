package slogbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Entry is one GrandOutput entry in the JSON form accepted by the ingest
// endpoint.
type Entry struct {
	Topic        string   `json:"topic,omitempty"`
	Monitor      string   `json:"monitor"`
	Type         string   `json:"type"`
	Time         int64    `json:"time"`
	Depth        int      `json:"depth"`
	PreviousType string   `json:"previous_type,omitempty"`
	PreviousTime int64    `json:"previous_time,omitempty"`
	Level        string   `json:"level"`
	Text         string   `json:"text,omitempty"`
	Exception    string   `json:"exception,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	File         string   `json:"file,omitempty"`
	Line         int      `json:"line,omitempty"`
	Conclusions  []string `json:"conclusions,omitempty"`
}

// Transport delivers batches of entries.
type Transport interface {
	Send(ctx context.Context, entries []Entry) error
}

// HTTPTransport posts batches to the ingest endpoint of a GrandOutput
// server.
type HTTPTransport struct {
	ServerURL string
	APIKey    string
	Client    *http.Client
}

func (t *HTTPTransport) Send(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.ServerURL, "/")+"/api/ingest", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ingest failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
