package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hierenlab/hieren-api/utils/eventstream"
)

// chatcli streams one conversation turn from a running API server and prints
// the assistant's reply as it arrives.

type turnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type turnRequest struct {
	SessionID uint          `json:"session_id"`
	Messages  []turnMessage `json:"messages"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API server base URL")
	sessionID := flag.Uint("session", 0, "chat session ID (0 creates a new anonymous session)")
	message := flag.String("message", "", "user message to send")
	token := flag.String("token", "", "optional bearer token")
	flag.Parse()

	if *message == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -message \"...\" [-session N] [-token T] [-url U]")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 5 * time.Minute}

	sid := *sessionID
	if sid == 0 {
		var err error
		sid, err = createSession(client, *baseURL, *token)
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Created session %d\n", sid)
	}

	body, err := json.Marshal(turnRequest{
		SessionID: sid,
		Messages:  []turnMessage{{Role: "user", Content: *message}},
	})
	if err != nil {
		log.Fatalf("Failed to encode request: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, *baseURL+"/api/v1/chat/turn", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		log.Fatalf("Server answered %d: %s", resp.StatusCode, payload)
	}

	reader := eventstream.NewReader(resp.Body)
	err = reader.Read(eventstream.Callbacks{
		OnChunk: func(data string) error {
			var chunk struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return nil
			}
			fmt.Print(chunk.Content)
			return nil
		},
		OnWarning: func(data string) error {
			var warning struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(data), &warning); err == nil && warning.Message != "" {
				fmt.Fprintf(os.Stderr, "\n[warning] %s\n", warning.Message)
			}
			return nil
		},
		OnDone: func(data string) error {
			fmt.Println()
			return nil
		},
	})
	if err != nil {
		log.Fatalf("Stream failed: %v", err)
	}
}

func createSession(client *http.Client, baseURL, token string) (uint, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/chat/sessions", bytes.NewReader([]byte("{}")))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server answered %d: %s", resp.StatusCode, payload)
	}

	var envelope struct {
		Data struct {
			ID uint `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, err
	}
	return envelope.Data.ID, nil
}
