package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hierenlab/hieren-api/model"
	"github.com/hierenlab/hieren-api/services/groq"
)

const (
	// DefaultTurnTimeout is the ceiling on a whole streamed turn
	DefaultTurnTimeout = 60 * time.Second
	// DefaultToolTimeout bounds a single tool execution
	DefaultToolTimeout = 8 * time.Second
	// DefaultMaxTokens is the completion budget per provider call
	DefaultMaxTokens = 4096
)

// defaultSystemPrompt anchors the assistant to its domain
const defaultSystemPrompt = `You are Hieren, an assistant for owners and installers of solar energy equipment.
You answer questions about system specifications, installation, troubleshooting, monitoring, and energy economics.
Answer in the language the user writes in. Be precise with electrical quantities and units.
If you are not sure about a device-specific value, say so instead of guessing.`

// TurnStore is the persistence surface the relay needs. The full session
// service implements it; tests substitute an in-memory fake.
type TurnStore interface {
	GetSessionForTurn(ctx context.Context, sessionID uint) (*model.ChatSession, error)
	SaveTurn(ctx context.Context, sessionID uint, userMsg, assistantMsg *model.ChatMessage) error
}

// TurnMessage is one prior message supplied by the client for a turn
type TurnMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// TurnRequest describes one conversation turn to stream
type TurnRequest struct {
	SessionID uint          `json:"session_id"`
	UserID    string        `json:"user_id,omitempty"` // forwarded to the knowledge service
	Messages  []TurnMessage `json:"messages" validate:"required,min=1,dive"`
}

// ToolEvent represents a tool-related event during streaming
type ToolEvent struct {
	Type      string      `json:"type"`      // "tool_start", "tool_end"
	ToolName  string      `json:"tool_name"` // Name of the tool
	Arguments interface{} `json:"arguments,omitempty"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
}

// TurnCallbacks holds callbacks for the events of a streamed turn. Every
// field is optional.
type TurnCallbacks struct {
	OnContent   func(chunk string) error             // Called for every text delta, in order
	OnWarning   func(message string) error           // Called when the turn degrades but continues
	OnToolEvent func(event ToolEvent) error          // Called around tool executions
	OnCitations func(citations model.Citations) error // Called when citations exist, before done
	OnUsage     func(usage *groq.Usage) error        // Called with token usage when the provider reports it
}

// TurnResult is the outcome of a completed turn
type TurnResult struct {
	Content          string
	Citations        model.Citations
	TokensUsed       int
	SawDone          bool
	AssistantMessage *model.ChatMessage
}

// ChatService drives streamed conversation turns against the model provider
type ChatService struct {
	groqClient  *groq.Client
	modelName   string
	tools       *ChatToolsRegistry
	knowledge   *KnowledgeService
	store       TurnStore
	turnTimeout time.Duration
	toolTimeout time.Duration
}

// NewChatService creates the relay. Tools and knowledge may be nil; both
// simply disable their phase.
func NewChatService(groqClient *groq.Client, modelName string, tools *ChatToolsRegistry, knowledge *KnowledgeService, store TurnStore) *ChatService {
	return &ChatService{
		groqClient:  groqClient,
		modelName:   modelName,
		tools:       tools,
		knowledge:   knowledge,
		store:       store,
		turnTimeout: DefaultTurnTimeout,
		toolTimeout: DefaultToolTimeout,
	}
}

// SetTimeouts overrides the turn and tool deadlines (used by tests)
func (s *ChatService) SetTimeouts(turn, tool time.Duration) {
	if turn > 0 {
		s.turnTimeout = turn
	}
	if tool > 0 {
		s.toolTimeout = tool
	}
}

// ValidateTurnRequest rejects malformed turns before any streaming begins
func ValidateTurnRequest(req TurnRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return fmt.Errorf("last message must have role \"user\", got %q", last.Role)
	}
	if strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("user message must not be empty")
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("invalid message role %q", m.Role)
		}
	}
	return nil
}

// StreamTurn runs one full conversation turn: it assembles the prompt,
// streams the primary completion, executes at most one tool round-trip, and
// persists the finished turn. Text deltas are forwarded through the callbacks
// as they arrive. The inbound context is propagated to every provider and
// tool call, so a disconnected client cancels all in-flight work.
func (s *ChatService) StreamTurn(ctx context.Context, req TurnRequest, callbacks TurnCallbacks) (*TurnResult, error) {
	if err := ValidateTurnRequest(req); err != nil {
		return nil, err
	}

	if s.store != nil {
		if _, err := s.store.GetSessionForTurn(ctx, req.SessionID); err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	userTurn := req.Messages[len(req.Messages)-1]
	result := &TurnResult{}

	// Submitting: system prompt, optional knowledge block, history, new turn
	systemPrompt := defaultSystemPrompt
	if s.knowledge != nil {
		if kr := s.knowledge.Lookup(ctx, userTurn.Content, req.UserID); kr != nil {
			systemPrompt = systemPrompt + "\n\n" + kr.Block
			for _, c := range kr.Citations {
				result.Citations = append(result.Citations, model.Citation{
					Title:   c.Title,
					Snippet: c.Snippet,
					Score:   c.Score,
					Source:  "knowledge_base",
				})
			}
			log.Printf("[Relay] Augmented turn with knowledge block (%d citations)", len(kr.Citations))
		}
	}

	messages := make([]groq.ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, groq.ChatMessage{Role: "system", Content: systemPrompt})
	for _, m := range req.Messages {
		messages = append(messages, groq.ChatMessage{Role: m.Role, Content: m.Content})
	}

	primaryReq := groq.ChatCompletionRequest{
		Model:         s.modelName,
		Messages:      messages,
		MaxTokens:     DefaultMaxTokens,
		StreamOptions: &groq.StreamOptions{IncludeUsage: true},
	}
	if s.tools != nil && s.tools.ToolsEnabled() {
		primaryReq.Tools = s.tools.GroqTools()
		primaryReq.ToolChoice = "auto"
	}

	// StreamingPrimary: forward deltas immediately, accumulate tool fragments
	var content strings.Builder
	accumulator := groq.NewToolCallAccumulator()

	streamResult, err := s.streamCompletion(ctx, primaryReq, callbacks, &content, accumulator, result)
	if err != nil {
		s.persistFailedTurn(req, userTurn, content.String())
		return nil, fmt.Errorf("primary stream failed: %w", err)
	}
	result.SawDone = streamResult.SawDone
	if !streamResult.SawDone {
		log.Printf("[Relay] Primary stream ended without sentinel after %d chunks", streamResult.ChunkCount)
	}

	// ExecutingTools + StreamingFollowup: at most one round-trip, and the
	// follow-up request has tool invocation disabled
	if accumulator.HasCalls() {
		followUpMessages := s.executeTools(ctx, messages, accumulator.Calls(), callbacks, result)

		followUpReq := groq.ChatCompletionRequest{
			Model:         s.modelName,
			Messages:      followUpMessages,
			MaxTokens:     DefaultMaxTokens,
			ToolChoice:    "none",
			StreamOptions: &groq.StreamOptions{IncludeUsage: true},
		}

		followUpResult, err := s.streamCompletion(ctx, followUpReq, callbacks, &content, nil, result)
		if err != nil {
			s.persistFailedTurn(req, userTurn, content.String())
			return nil, fmt.Errorf("follow-up stream failed: %w", err)
		}
		result.SawDone = followUpResult.SawDone
	}

	// Finalizing: reference block, citations callback, persistence
	result.Content = content.String()

	if len(result.Citations) > 0 {
		if refs := formatCitationReferences(result.Citations); refs != "" {
			result.Content += refs
			if callbacks.OnContent != nil {
				if err := callbacks.OnContent(refs); err != nil {
					log.Printf("[Relay] Content callback error on reference block: %v", err)
				}
			}
		}
		if callbacks.OnCitations != nil {
			if err := callbacks.OnCitations(result.Citations); err != nil {
				log.Printf("[Relay] Citations callback error: %v", err)
			}
		}
	}

	s.persistTurn(req, userTurn, result)

	return result, nil
}

// streamCompletion runs one provider stream, forwarding deltas and collecting
// tool fragments. A nil accumulator drops any tool fragments, which is what
// the follow-up pass wants.
func (s *ChatService) streamCompletion(ctx context.Context, req groq.ChatCompletionRequest, callbacks TurnCallbacks, content *strings.Builder, accumulator *groq.ToolCallAccumulator, result *TurnResult) (*groq.StreamResult, error) {
	return s.groqClient.StreamChatCompletion(ctx, req, func(chunk groq.StreamChunk) error {
		if delta := chunk.GetContent(); delta != "" {
			content.WriteString(delta)
			if callbacks.OnContent != nil {
				if err := callbacks.OnContent(delta); err != nil {
					return err
				}
			}
		}

		if accumulator != nil {
			accumulator.AddAll(chunk.GetToolCallDeltas())
		}

		if usage := chunk.GetUsage(); usage != nil {
			result.TokensUsed += usage.TotalTokens
			if callbacks.OnUsage != nil {
				if err := callbacks.OnUsage(usage); err != nil {
					log.Printf("[Relay] Usage callback error: %v", err)
				}
			}
		}

		return nil
	})
}

// executeTools runs the accumulated tool calls and returns the message list
// for the follow-up request: original history plus the assistant tool-call
// message plus one tool-result message per call. Failures degrade to the
// inline warning and a degraded tool message; the turn always continues.
func (s *ChatService) executeTools(ctx context.Context, messages []groq.ChatMessage, calls []groq.ToolCall, callbacks TurnCallbacks, result *TurnResult) []groq.ChatMessage {
	followUp := make([]groq.ChatMessage, len(messages), len(messages)+1+len(calls))
	copy(followUp, messages)
	followUp = append(followUp, groq.ChatMessage{
		Role:      "assistant",
		ToolCalls: calls,
	})

	for _, call := range calls {
		log.Printf("[Relay] Executing tool %s (id=%s)", call.Function.Name, call.ID)
		if callbacks.OnToolEvent != nil {
			callbacks.OnToolEvent(ToolEvent{
				Type:      "tool_start",
				ToolName:  call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}

		toolCtx, cancel := context.WithTimeout(ctx, s.toolTimeout)
		var toolResult *ToolResult
		if s.tools != nil {
			toolResult = s.tools.ExecuteToolCall(toolCtx, call)
		} else {
			toolResult = &ToolResult{Success: false, Error: "no tools registered"}
		}
		cancel()

		if callbacks.OnToolEvent != nil {
			callbacks.OnToolEvent(ToolEvent{
				Type:     "tool_end",
				ToolName: call.Function.Name,
				Success:  toolResult.Success,
				Error:    toolResult.Error,
			})
		}

		if toolResult.Success {
			for _, c := range toolResult.Citations {
				result.Citations = append(result.Citations, model.Citation{
					Title:   c.Title,
					URL:     c.URL,
					Snippet: c.Snippet,
					Score:   c.Score,
					Source:  "web_search",
				})
			}
		} else {
			log.Printf("[Relay] Tool %s degraded: %s", call.Function.Name, toolResult.Error)
			if callbacks.OnWarning != nil {
				if err := callbacks.OnWarning(SearchDegradedWarning); err != nil {
					log.Printf("[Relay] Warning callback error: %v", err)
				}
			}
		}

		var content string
		if s.tools != nil {
			content = s.tools.FormatToolResult(toolResult)
		} else {
			content = SearchDegradedWarning
		}
		followUp = append(followUp, groq.ChatMessage{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    content,
		})
	}

	return followUp
}

// formatCitationReferences renders persisted citations as the reference block
// appended to the assistant's visible output
func formatCitationReferences(citations model.Citations) string {
	if len(citations) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\nReferences:\n")
	for i, c := range citations {
		label := c.Title
		if label == "" {
			label = c.URL
		}
		if label == "" {
			label = fmt.Sprintf("Source %d", i+1)
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, label)
		if c.URL != "" && c.URL != label {
			fmt.Fprintf(&sb, " (%s)", c.URL)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// persistTurn saves the completed turn. Persistence failures are logged and
// never surfaced to the stream, which has already delivered its content.
func (s *ChatService) persistTurn(req TurnRequest, userTurn TurnMessage, result *TurnResult) {
	if s.store == nil {
		return
	}

	userMsg := &model.ChatMessage{
		SessionID: req.SessionID,
		Role:      model.MessageRoleUser,
		Content:   model.TextBlocks(userTurn.Content),
		Status:    model.MessageStatusSent,
	}
	assistantMsg := &model.ChatMessage{
		SessionID:  req.SessionID,
		Role:       model.MessageRoleAssistant,
		Content:    model.TextBlocks(result.Content),
		Status:     model.MessageStatusSent,
		Citations:  result.Citations,
		TokensUsed: result.TokensUsed,
		ModelUsed:  s.modelName,
	}

	// Persistence happens after the stream has ended; a fresh context keeps
	// it from being cancelled by the client disconnecting.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.SaveTurn(ctx, req.SessionID, userMsg, assistantMsg); err != nil {
		log.Printf("[Relay] Failed to persist turn for session %d: %v", req.SessionID, err)
		return
	}
	result.AssistantMessage = assistantMsg
}

// persistFailedTurn records a turn that died mid-stream so the partial
// content is not lost. Best effort only.
func (s *ChatService) persistFailedTurn(req TurnRequest, userTurn TurnMessage, partial string) {
	if s.store == nil || strings.TrimSpace(partial) == "" {
		return
	}

	userMsg := &model.ChatMessage{
		SessionID: req.SessionID,
		Role:      model.MessageRoleUser,
		Content:   model.TextBlocks(userTurn.Content),
		Status:    model.MessageStatusSent,
	}
	assistantMsg := &model.ChatMessage{
		SessionID: req.SessionID,
		Role:      model.MessageRoleAssistant,
		Content:   model.TextBlocks(partial),
		Status:    model.MessageStatusFailed,
		ModelUsed: s.modelName,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.SaveTurn(ctx, req.SessionID, userMsg, assistantMsg); err != nil {
		log.Printf("[Relay] Failed to persist partial turn for session %d: %v", req.SessionID, err)
	}
}
