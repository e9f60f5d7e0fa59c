package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/hierenlab/hieren-api/services/groq"
	"github.com/hierenlab/hieren-api/services/tavily"
)

// SearchDegradedWarning is appended to the visible output when a tool call
// cannot be completed. Tool failures never abort a turn.
const SearchDegradedWarning = "search failed, continuing without results"

// ToolParameter defines a single parameter for a tool
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, boolean, array, object
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"` // For constrained values
}

// ToolDefinition defines a tool the model can use
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// ToolResult represents the result of executing a tool
type ToolResult struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Citations []Citation  `json:"citations,omitempty"`
}

// Citation is a source reference produced by a tool execution
type Citation struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// ChatToolsRegistry manages the tools available to chat turns
type ChatToolsRegistry struct {
	tools        map[string]ToolDefinition
	searchClient *tavily.Client
}

// NewChatToolsRegistry creates a tools registry. A nil search client leaves
// the registry empty, which disables tool calling for the turn.
func NewChatToolsRegistry(searchClient *tavily.Client) *ChatToolsRegistry {
	registry := &ChatToolsRegistry{
		tools:        make(map[string]ToolDefinition),
		searchClient: searchClient,
	}

	if searchClient != nil {
		registry.registerSearchTools()
	}

	return registry
}

// registerSearchTools registers the web search tool
func (r *ChatToolsRegistry) registerSearchTools() {
	r.RegisterTool(ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information. Use this when the user asks about recent events, prices, regulations, or needs up-to-date information that may not be in your training data.",
		Parameters: []ToolParameter{
			{
				Name:        "query",
				Type:        "string",
				Description: "The search query. Be specific and include relevant keywords.",
				Required:    true,
			},
			{
				Name:        "search_depth",
				Type:        "string",
				Description: "How thorough the search should be. Use 'advanced' only for complex research questions.",
				Required:    false,
				Enum:        []string{tavily.SearchDepthBasic, tavily.SearchDepthAdvanced},
			},
		},
	})
}

// RegisterTool registers a new tool
func (r *ChatToolsRegistry) RegisterTool(tool ToolDefinition) {
	r.tools[tool.Name] = tool
}

// ToolsEnabled returns true if any tools are available
func (r *ChatToolsRegistry) ToolsEnabled() bool {
	return len(r.tools) > 0
}

// GroqTools renders the registry as provider tool declarations
func (r *ChatToolsRegistry) GroqTools() []groq.Tool {
	var out []groq.Tool
	for _, def := range r.tools {
		properties := make(map[string]interface{}, len(def.Parameters))
		var required []string
		for _, p := range def.Parameters {
			prop := map[string]interface{}{
				"type":        p.Type,
				"description": p.Description,
			}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			properties[p.Name] = prop
			if p.Required {
				required = append(required, p.Name)
			}
		}

		out = append(out, groq.Tool{
			Type: "function",
			Function: groq.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		})
	}
	return out
}

// ParseArguments decodes and validates a raw JSON argument payload against
// the tool's definition. Any failure is a local degradation, never a turn
// abort.
func (r *ChatToolsRegistry) ParseArguments(toolName, rawArgs string) (map[string]interface{}, error) {
	tool, exists := r.tools[toolName]
	if !exists {
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}

	args := make(map[string]interface{})
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return nil, fmt.Errorf("malformed tool arguments: %w", err)
		}
	}

	for _, param := range tool.Parameters {
		val, present := args[param.Name]
		if !present {
			if param.Required {
				return nil, fmt.Errorf("missing required parameter: %s", param.Name)
			}
			continue
		}
		if len(param.Enum) > 0 {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s must be a string", param.Name)
			}
			valid := false
			for _, allowed := range param.Enum {
				if s == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return nil, fmt.Errorf("parameter %s has invalid value %q (allowed: %s)", param.Name, s, strings.Join(param.Enum, ", "))
			}
		}
	}

	return args, nil
}

// ExecuteToolCall runs a provider tool call end to end: argument decoding,
// validation, and execution. Failures come back as an unsuccessful result.
func (r *ChatToolsRegistry) ExecuteToolCall(ctx context.Context, call groq.ToolCall) *ToolResult {
	args, err := r.ParseArguments(call.Function.Name, call.Function.Arguments)
	if err != nil {
		log.Printf("[Tools] Rejecting tool call %s: %v", call.Function.Name, err)
		return &ToolResult{Success: false, Error: err.Error()}
	}

	switch call.Function.Name {
	case "web_search":
		return r.executeWebSearch(ctx, args)
	default:
		return &ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool execution not implemented: %s", call.Function.Name),
		}
	}
}

// executeWebSearch executes the web_search tool via the search client
func (r *ChatToolsRegistry) executeWebSearch(ctx context.Context, args map[string]interface{}) *ToolResult {
	if r.searchClient == nil {
		return &ToolResult{Success: false, Error: "search is not configured"}
	}

	query, _ := args["query"].(string)
	depth, _ := args["search_depth"].(string)

	resp, err := r.searchClient.Search(ctx, tavily.SearchRequest{
		Query:         query,
		SearchDepth:   depth,
		IncludeAnswer: true,
	})
	if err != nil {
		log.Printf("[Tools] web_search failed: %v", err)
		return &ToolResult{Success: false, Error: err.Error()}
	}

	citations := make([]Citation, 0, len(resp.Results))
	for _, res := range resp.Results {
		snippet := res.Content
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		citations = append(citations, Citation{
			Title:   res.Title,
			URL:     res.URL,
			Snippet: snippet,
			Score:   res.Score,
		})
	}

	return &ToolResult{
		Success:   true,
		Data:      resp.FormatAsBlock(),
		Citations: citations,
	}
}

// FormatToolResult renders a result as the content of the tool message fed
// back to the model. Failed executions produce the degradation notice so the
// model can still answer.
func (r *ChatToolsRegistry) FormatToolResult(result *ToolResult) string {
	if result == nil || !result.Success {
		return SearchDegradedWarning
	}

	if s, ok := result.Data.(string); ok {
		return s
	}

	data, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", result.Data)
	}
	return string(data)
}
