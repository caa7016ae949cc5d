package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

type window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/availability", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			PrincipalID string   `json:"principal_id"`
			Windows     []window `json:"windows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// Every proposed window is free in localdev, unless none were
		// proposed, in which case alternatives are suggested.
		if len(req.Windows) > 0 {
			writeJSON(w, map[string]any{"available": true})
			return
		}
		tomorrow := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
		writeJSON(w, map[string]any{
			"available": false,
			"suggested_alternatives": []window{
				{Start: tomorrow.Format(time.RFC3339), End: tomorrow.Add(time.Hour).Format(time.RFC3339)},
				{Start: tomorrow.Add(2 * time.Hour).Format(time.RFC3339), End: tomorrow.Add(3 * time.Hour).Format(time.RFC3339)},
			},
		})
	})

	mux.HandleFunc("/v1/send", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			To      string `json:"to"`
			Subject string `json:"subject"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		log.Printf("mock send to=%s subject=%q", req.To, req.Subject)
		writeJSON(w, map[string]string{
			"message_id": fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		})
	})

	mux.HandleFunc("/v1/messages/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/messages/"), "/")
		if len(parts) != 2 {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{
			"id":        parts[1],
			"thread_id": "thread-" + parts[1],
			"sender":    "alice@example.com",
			"subject":   "Coffee next week?",
			"body":      "Would Thursday 2pm work for a quick sync?",
		})
	})

	mux.HandleFunc("/v1/policies/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"automation_enabled":             true,
			"confidence_threshold":           0.85,
			"allow_list":                     []string{"alice@example.com"},
			"deny_list":                      []string{},
			"cooldown_minutes":               60,
			"max_consecutive_low_confidence": 5,
		})
	})

	addr := ":8470"
	log.Printf("mock collaborators listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
