// gateway-stub is a local stand-in for the message gateway: it accepts the
// send endpoint and answers success, with optional failure injection for
// exercising the dispatcher's failure paths.
//
//	GATEWAY_STUB_FAIL_RATE=0.2 go run ./cmd/gateway-stub
package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

type sendRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	failRate := 0.0
	if v := os.Getenv("GATEWAY_STUB_FAIL_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			log.Fatalf("GATEWAY_STUB_FAIL_RATE must be in [0,1], got %q", v)
		}
		failRate = f
	}

	var delay time.Duration
	if v := os.Getenv("GATEWAY_STUB_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			log.Fatalf("GATEWAY_STUB_DELAY_MS must be a non-negative integer, got %q", v)
		}
		delay = time.Duration(ms) * time.Millisecond
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "invalid JSON"})
			return
		}

		if delay > 0 {
			time.Sleep(delay)
		}

		w.Header().Set("Content-Type", "application/json")
		if failRate > 0 && rand.Float64() < failRate {
			log.Printf("FAIL  %s %q", req.Phone, truncate(req.Message, 40))
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "injected failure"})
			return
		}
		log.Printf("SENT  %s %q", req.Phone, truncate(req.Message, 40))
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	log.Printf("Gateway stub listening on :%s (fail_rate=%.2f, delay=%s)", port, failRate, delay)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
