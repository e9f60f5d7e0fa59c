package services

import (
	"context"
	"log"
	"strings"

	"github.com/hierenlab/hieren-api/services/rag"
)

// technicalKeywords is the fixed vocabulary used to decide whether a turn
// should be augmented with retrieved knowledge. It covers equipment
// specification, troubleshooting, and unit terms in English and Indonesian.
var technicalKeywords = []string{
	// specification terms
	"voc", "vmp", "isc", "imp", "mppt", "spec", "specification", "datasheet",
	"spesifikasi", "inverter", "panel", "modul", "module", "battery", "baterai",
	"charge controller", "efficiency", "efisiensi", "capacity", "kapasitas",
	// troubleshooting terms
	"error", "fault", "troubleshoot", "troubleshooting", "gangguan", "rusak",
	"perbaikan", "grounding", "short circuit", "hubung singkat", "overload",
	"wiring", "kabel", "instalasi", "installation", "maintenance", "perawatan",
	"alarm", "warning code",
	// unit terms
	"volt", "voltage", "tegangan", "ampere", "arus", "watt", "daya", "kwh",
	"kilowatt", "hertz", "frekuensi", "ohm", "derajat", "celsius",
}

// IsTechnicalQuery reports whether the text matches the technical-query
// heuristic. Matching is a case-insensitive keyword membership test.
func IsTechnicalQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range technicalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// KnowledgeService augments technical turns with answers from the external
// retrieval service. Every failure path degrades to "no augmentation".
type KnowledgeService struct {
	client *rag.Client
}

// NewKnowledgeService creates a knowledge service backed by the given client.
// A nil client disables augmentation entirely.
func NewKnowledgeService(client *rag.Client) *KnowledgeService {
	return &KnowledgeService{client: client}
}

// KnowledgeResult is the outcome of an augmentation lookup
type KnowledgeResult struct {
	Block     string
	Citations []rag.Citation
}

// Lookup fetches a knowledge block for a technical query. It returns nil when
// the query is not technical, the collaborator is absent, or the lookup fails.
func (s *KnowledgeService) Lookup(ctx context.Context, text, userID string) *KnowledgeResult {
	if s == nil || s.client == nil {
		return nil
	}
	if !IsTechnicalQuery(text) {
		return nil
	}

	resp, err := s.client.Chat(ctx, text, userID)
	if err != nil {
		log.Printf("[Knowledge] Lookup failed, continuing without augmentation: %v", err)
		return nil
	}
	if resp.Response == "" {
		return nil
	}

	return &KnowledgeResult{
		Block:     FormatKnowledgeBlock(resp.Response),
		Citations: resp.Citations,
	}
}

// FormatKnowledgeBlock wraps retrieved knowledge for inclusion in the system
// prompt
func FormatKnowledgeBlock(content string) string {
	var sb strings.Builder
	sb.WriteString("Relevant knowledge base context:\n")
	sb.WriteString(content)
	sb.WriteString("\nUse this context when it answers the user's question; otherwise rely on your own knowledge.")
	return sb.String()
}
