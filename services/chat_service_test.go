package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/services/groq"
	"github.com/hierenlab/hieren-api/services/rag"
)

// fakeTurnStore is an in-memory TurnStore
type fakeTurnStore struct {
	mu       sync.Mutex
	sessions map[uint]*model.ChatSession
	saved    [][2]*model.ChatMessage
}

func newFakeTurnStore(sessionIDs ...uint) *fakeTurnStore {
	store := &fakeTurnStore{sessions: make(map[uint]*model.ChatSession)}
	for _, id := range sessionIDs {
		store.sessions[id] = &model.ChatSession{ID: id}
	}
	return store
}

func (f *fakeTurnStore) GetSessionForTurn(ctx context.Context, sessionID uint) (*model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return session, nil
}

func (f *fakeTurnStore) SaveTurn(ctx context.Context, sessionID uint, userMsg, assistantMsg *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, [2]*model.ChatMessage{userMsg, assistantMsg})
	return nil
}

func (f *fakeTurnStore) savedTurns() [][2]*model.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]*model.ChatMessage(nil), f.saved...)
}

// fakeGroqServer answers streaming completion requests from a scripted list
// of SSE bodies, one per request, and records the decoded requests.
type fakeGroqServer struct {
	mu       sync.Mutex
	scripts  []string
	requests []groq.ChatCompletionRequest
	server   *httptest.Server
}

func newFakeGroqServer(t *testing.T, scripts ...string) *fakeGroqServer {
	f := &fakeGroqServer{scripts: scripts}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req groq.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode provider request: %v", err)
		}

		f.mu.Lock()
		f.requests = append(f.requests, req)
		idx := len(f.requests) - 1
		f.mu.Unlock()

		if idx >= len(f.scripts) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, f.scripts[idx])
	}))
	return f
}

func (f *fakeGroqServer) recorded() []groq.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]groq.ChatCompletionRequest(nil), f.requests...)
}

func sseBody(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func contentChunk(text string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"id":      "c1",
		"choices": []map[string]interface{}{{"index": 0, "delta": map[string]string{"content": text}}},
	})
	return "data: " + string(data)
}

func newTestChatService(groqURL string, tools *ChatToolsRegistry, knowledge *KnowledgeService, store TurnStore) *ChatService {
	retry := groq.RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	client := groq.NewClient(groq.Config{APIKey: "test", BaseURL: groqURL, RetryConfig: &retry})
	svc := NewChatService(client, "test-model", tools, knowledge, store)
	svc.SetTimeouts(5*time.Second, time.Second)
	return svc
}

func userTurn(sessionID uint, content string) TurnRequest {
	return TurnRequest{
		SessionID: sessionID,
		Messages:  []TurnMessage{{Role: "user", Content: content}},
	}
}

func TestValidateTurnRequest(t *testing.T) {
	cases := []struct {
		name    string
		req     TurnRequest
		wantErr bool
	}{
		{"valid", userTurn(1, "hello"), false},
		{"empty messages", TurnRequest{SessionID: 1}, true},
		{"last not user", TurnRequest{SessionID: 1, Messages: []TurnMessage{{Role: "assistant", Content: "hi"}}}, true},
		{"empty content", TurnRequest{SessionID: 1, Messages: []TurnMessage{{Role: "user", Content: "   "}}}, true},
		{"bad role", TurnRequest{SessionID: 1, Messages: []TurnMessage{{Role: "robot", Content: "x"}, {Role: "user", Content: "y"}}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTurnRequest(tc.req)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateTurnRequest = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestStreamTurnModelOnly(t *testing.T) {
	provider := newFakeGroqServer(t, sseBody(
		contentChunk("The answer "),
		contentChunk("is 42."),
		"data: [DONE]",
	))
	defer provider.server.Close()

	store := newFakeTurnStore(7)
	svc := newTestChatService(provider.server.URL, nil, nil, store)

	var chunks []string
	result, err := svc.StreamTurn(context.Background(), userTurn(7, "what is the answer?"), TurnCallbacks{
		OnContent: func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	if got := strings.Join(chunks, ""); got != "The answer is 42." {
		t.Errorf("streamed content = %q", got)
	}
	if result.Content != "The answer is 42." {
		t.Errorf("result.Content = %q", result.Content)
	}
	if !result.SawDone {
		t.Error("SawDone = false, want true")
	}

	turns := store.savedTurns()
	if len(turns) != 1 {
		t.Fatalf("persisted %d turns, want exactly 1", len(turns))
	}
	userMsg, assistantMsg := turns[0][0], turns[0][1]
	if userMsg.Role != model.MessageRoleUser {
		t.Errorf("user message role = %q", userMsg.Role)
	}
	if assistantMsg.Role != model.MessageRoleAssistant || assistantMsg.Status != model.MessageStatusSent {
		t.Errorf("assistant message = role %q status %q", assistantMsg.Role, assistantMsg.Status)
	}
	if got := assistantMsg.Content.PlainText(); got != "The answer is 42." {
		t.Errorf("persisted assistant content = %q", got)
	}
	if result.AssistantMessage != assistantMsg {
		t.Error("result.AssistantMessage is not the persisted message")
	}

	reqs := provider.recorded()
	if len(reqs) != 1 {
		t.Fatalf("provider saw %d requests, want 1", len(reqs))
	}
	if reqs[0].Messages[0].Role != "system" {
		t.Error("first provider message is not the system prompt")
	}
	if len(reqs[0].Tools) != 0 {
		t.Error("tools were sent without a registry")
	}
}

func TestStreamTurnWithToolRoundTrip(t *testing.T) {
	// Primary stream: tool-call fragments split across chunks, no content
	toolFragment := func(index int, id, name, args string) string {
		delta := map[string]interface{}{
			"index":    index,
			"function": map[string]string{"arguments": args},
		}
		if id != "" {
			delta["id"] = id
			delta["type"] = "function"
		}
		if name != "" {
			delta["function"] = map[string]string{"name": name, "arguments": args}
		}
		data, _ := json.Marshal(map[string]interface{}{
			"id":      "c1",
			"choices": []map[string]interface{}{{"index": 0, "delta": map[string]interface{}{"tool_calls": []interface{}{delta}}}},
		})
		return "data: " + string(data)
	}

	provider := newFakeGroqServer(t,
		sseBody(
			toolFragment(0, "call_1", "web_search", `{"query":"solar`),
			toolFragment(0, "", "", ` module prices"}`),
			"data: [DONE]",
		),
		sseBody(
			contentChunk("Prices fell this year."),
			"data: [DONE]",
		),
	)
	defer provider.server.Close()

	searchServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"query":"solar module prices","results":[{"title":"Market report","url":"https://example.com/report","content":"Module prices fell 12%.","score":0.95}]}`)
	}))
	defer searchServer.Close()

	store := newFakeTurnStore(3)
	tools := NewChatToolsRegistry(testSearchClient(searchServer.URL))
	svc := newTestChatService(provider.server.URL, tools, nil, store)

	var content strings.Builder
	var toolEvents []ToolEvent
	var citations model.Citations
	result, err := svc.StreamTurn(context.Background(), userTurn(3, "how are solar module prices moving?"), TurnCallbacks{
		OnContent: func(chunk string) error {
			content.WriteString(chunk)
			return nil
		},
		OnToolEvent: func(event ToolEvent) error {
			toolEvents = append(toolEvents, event)
			return nil
		},
		OnCitations: func(c model.Citations) error {
			citations = c
			return nil
		},
	})
	if err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	if !strings.Contains(result.Content, "Prices fell this year.") {
		t.Errorf("result content missing follow-up text: %q", result.Content)
	}
	if !strings.Contains(result.Content, "References:") || !strings.Contains(result.Content, "https://example.com/report") {
		t.Errorf("result content missing reference block: %q", result.Content)
	}
	if !strings.Contains(content.String(), "References:") {
		t.Error("reference block was not streamed through OnContent")
	}

	if len(toolEvents) != 2 || toolEvents[0].Type != "tool_start" || toolEvents[1].Type != "tool_end" {
		t.Errorf("tool events = %+v", toolEvents)
	}
	if !toolEvents[1].Success {
		t.Error("tool_end reports failure for a successful search")
	}

	if len(citations) != 1 || citations[0].Source != "web_search" {
		t.Errorf("citations = %+v", citations)
	}

	reqs := provider.recorded()
	if len(reqs) != 2 {
		t.Fatalf("provider saw %d requests, want 2 (one tool round-trip)", len(reqs))
	}
	followUp := reqs[1]
	if followUp.ToolChoice != "none" {
		t.Errorf("follow-up ToolChoice = %q, want \"none\"", followUp.ToolChoice)
	}
	if len(followUp.Tools) != 0 {
		t.Error("follow-up request re-declares tools")
	}

	var sawAssistantCall, sawToolMsg bool
	for _, m := range followUp.Messages {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 {
			sawAssistantCall = true
			if m.ToolCalls[0].Function.Arguments != `{"query":"solar module prices"}` {
				t.Errorf("reassembled arguments = %q", m.ToolCalls[0].Function.Arguments)
			}
		}
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			sawToolMsg = true
			if !strings.Contains(m.Content, "Market report") {
				t.Errorf("tool message content = %q", m.Content)
			}
		}
	}
	if !sawAssistantCall || !sawToolMsg {
		t.Errorf("follow-up messages missing tool round-trip (assistant=%v tool=%v)", sawAssistantCall, sawToolMsg)
	}

	turns := store.savedTurns()
	if len(turns) != 1 {
		t.Fatalf("persisted %d turns, want exactly 1", len(turns))
	}
	if len(turns[0][1].Citations) != 1 {
		t.Errorf("persisted citations = %+v", turns[0][1].Citations)
	}
}

func TestStreamTurnDegradesWhenSearchFails(t *testing.T) {
	toolCallChunk := func() string {
		data, _ := json.Marshal(map[string]interface{}{
			"id": "c1",
			"choices": []map[string]interface{}{{
				"index": 0,
				"delta": map[string]interface{}{
					"tool_calls": []interface{}{map[string]interface{}{
						"index":    0,
						"id":       "call_1",
						"type":     "function",
						"function": map[string]string{"name": "web_search", "arguments": `{"query":"anything"}`},
					}},
				},
			}},
		})
		return "data: " + string(data)
	}

	provider := newFakeGroqServer(t,
		sseBody(toolCallChunk(), "data: [DONE]"),
		sseBody(contentChunk("Answering from what I know."), "data: [DONE]"),
	)
	defer provider.server.Close()

	searchServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer searchServer.Close()

	store := newFakeTurnStore(4)
	tools := NewChatToolsRegistry(testSearchClient(searchServer.URL))
	svc := newTestChatService(provider.server.URL, tools, nil, store)

	var warnings []string
	result, err := svc.StreamTurn(context.Background(), userTurn(4, "look this up"), TurnCallbacks{
		OnWarning: func(message string) error {
			warnings = append(warnings, message)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("StreamTurn returned error: %v (tool failure must not abort the turn)", err)
	}

	if len(warnings) != 1 || warnings[0] != SearchDegradedWarning {
		t.Errorf("warnings = %v, want the degradation notice", warnings)
	}
	if result.Content != "Answering from what I know." {
		t.Errorf("result.Content = %q", result.Content)
	}
	if len(result.Citations) != 0 {
		t.Errorf("citations = %+v from a failed search", result.Citations)
	}

	// The degraded tool message still reaches the follow-up request
	reqs := provider.recorded()
	if len(reqs) != 2 {
		t.Fatalf("provider saw %d requests, want 2", len(reqs))
	}
	var toolMsg string
	for _, m := range reqs[1].Messages {
		if m.Role == "tool" {
			toolMsg = m.Content
		}
	}
	if toolMsg != SearchDegradedWarning {
		t.Errorf("tool message = %q, want the degradation notice", toolMsg)
	}
}

func TestStreamTurnAugmentsTechnicalQueriesWithKnowledge(t *testing.T) {
	provider := newFakeGroqServer(t, sseBody(contentChunk("Voc explained."), "data: [DONE]"))
	defer provider.server.Close()

	ragServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":"Voc is the open-circuit voltage.","citations":[{"title":"Datasheet","score":0.8}],"status":"ok"}`)
	}))
	defer ragServer.Close()

	store := newFakeTurnStore(5)
	knowledge := newTestKnowledgeService(ragServer.URL)
	svc := newTestChatService(provider.server.URL, nil, knowledge, store)

	result, err := svc.StreamTurn(context.Background(), userTurn(5, "What is the Voc voltage?"), TurnCallbacks{})
	if err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	reqs := provider.recorded()
	if !strings.Contains(reqs[0].Messages[0].Content, "Voc is the open-circuit voltage.") {
		t.Error("system prompt was not augmented with the knowledge block")
	}
	if len(result.Citations) != 1 || result.Citations[0].Source != "knowledge_base" {
		t.Errorf("citations = %+v", result.Citations)
	}
}

func TestStreamTurnSkipsKnowledgeForGeneralQueries(t *testing.T) {
	provider := newFakeGroqServer(t, sseBody(contentChunk("Ha!"), "data: [DONE]"))
	defer provider.server.Close()

	ragCalled := false
	ragServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ragCalled = true
	}))
	defer ragServer.Close()

	store := newFakeTurnStore(6)
	knowledge := newTestKnowledgeService(ragServer.URL)
	svc := newTestChatService(provider.server.URL, nil, knowledge, store)

	if _, err := svc.StreamTurn(context.Background(), userTurn(6, "tell me a joke"), TurnCallbacks{}); err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}
	if ragCalled {
		t.Error("knowledge service was called for a general query")
	}
}

func TestStreamTurnUnknownSession(t *testing.T) {
	provider := newFakeGroqServer(t)
	defer provider.server.Close()

	store := newFakeTurnStore() // no sessions
	svc := newTestChatService(provider.server.URL, nil, nil, store)

	_, err := svc.StreamTurn(context.Background(), userTurn(99, "hello"), TurnCallbacks{})
	if err == nil {
		t.Fatal("expected error for an unknown session")
	}
	if len(provider.recorded()) != 0 {
		t.Error("provider was called for an unknown session")
	}
}

func TestStreamTurnProviderFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	}))
	defer provider.Close()

	store := newFakeTurnStore(8)
	svc := newTestChatService(provider.URL, nil, nil, store)

	_, err := svc.StreamTurn(context.Background(), userTurn(8, "hello"), TurnCallbacks{})
	if err == nil {
		t.Fatal("expected error when the provider rejects the request")
	}
	// Nothing streamed, so nothing is persisted
	if turns := store.savedTurns(); len(turns) != 0 {
		t.Errorf("persisted %d turns after total failure, want 0", len(turns))
	}
}

func newTestKnowledgeService(url string) *KnowledgeService {
	return NewKnowledgeService(rag.NewClient(url))
}
