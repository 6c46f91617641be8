// mock-telegram is a local stand-in for the Telegram bot API so the
// notifier path can be exercised without real credentials. Point the
// notifier at it by rewriting api.telegram.org in /etc/hosts or a proxy,
// or just watch the log output to verify message bodies.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
)

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	failFirst := flag.Bool("fail-first", false, "reject the first delivery to exercise the retry path")
	flag.Parse()

	var calls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "description": err.Error()})
			return
		}

		n := calls.Add(1)
		if *failFirst && n == 1 {
			log.Printf("rejecting delivery %d (fail-first)", n)
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "description": "simulated outage"})
			return
		}

		log.Printf("delivery %d chat_id=%s\n%s", n, req.ChatID, req.Text)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]any{"message_id": n}})
	})

	log.Printf("mock telegram listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatalf("mock telegram exited: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
