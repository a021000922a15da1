// Package main runs a demo WebSocket client: it seeds a depot and a few
// deliveries, subscribes to plan events and triggers an optimization.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var token = os.Getenv("TOKEN")

func post(base, path, body string) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader([]byte(body)))
	if path == "/v1/depot" {
		req.Method = http.MethodPut
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var p map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&p)
		log.Fatalf("%s %s: %d %v", req.Method, path, resp.StatusCode, p)
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	post(base, "/v1/depot", `{"address":"Depot","lat":40.0,"lng":-75.0}`)
	for i, c := range [][2]float64{{40.01, -75.0}, {40.0, -75.012}, {39.99, -75.004}, {40.006, -74.992}} {
		post(base, "/v1/deliveries", fmt.Sprintf(`{"address":"Stop %d","demand":%d,"lat":%f,"lng":%f}`, i+1, i+2, c[0], c[1]))
	}

	q := url.Values{}
	if token != "" {
		q.Set("access_token", token)
	}
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws", RawQuery: q.Encode()}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"types":["routes.optimized","optimize.failed"]}`)}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	time.Sleep(300 * time.Millisecond)
	post(base, "/v1/optimize", `{"numVehicles":2,"timeLimitMs":500}`)

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
