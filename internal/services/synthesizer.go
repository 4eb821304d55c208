package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
)

// Synthesis tasks.
const (
	TaskAnswer        = "answer"
	TaskAssetOverview = "asset_overview"
)

// SynthesisInput is everything the synthesizer may use for one answer.
type SynthesisInput struct {
	Query          string
	EnhancedQuery  string
	SystemsContext []models.SystemRef
	Chunks         []models.Chunk
	RetrievalError string
	RecentMessages []models.Message
	Style          string // already resolved, see StyleProfiles.ResolveStyle
	Task           string
}

type SynthesisResult struct {
	Content string
	Sources []models.Source
	Style   string
}

type AnswerSynthesizer struct {
	llm      LLM
	profiles StyleProfiles
	log      *logger.Logger
}

func NewAnswerSynthesizer(llm LLM, profiles StyleProfiles, log *logger.Logger) *AnswerSynthesizer {
	return &AnswerSynthesizer{llm: llm, profiles: profiles, log: log.With("service", "AnswerSynthesizer")}
}

func (s *AnswerSynthesizer) Profiles() StyleProfiles { return s.profiles }

// Synthesize turns finalist chunks into an answer. LLM failures are returned.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, in SynthesisInput) (SynthesisResult, error) {
	prof, ok := s.profiles.Profile(in.Style)
	if !ok {
		return SynthesisResult{}, fmt.Errorf("%w: unknown style %q", ErrInvalidInput, in.Style)
	}

	req := openai.CompletionRequest{
		System:      s.systemPrompt(in.Style, prof),
		User:        buildAnswerPrompt(in),
		MaxTokens:   prof.MaxTokens,
		Temperature: prof.Temperature,
	}
	if prof.Deterministic {
		seed := deterministicSeed
		req.Temperature = 0
		req.Seed = &seed
	}

	text, err := s.llm.Complete(ctx, req)
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("answer synthesis: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return SynthesisResult{}, errors.New("answer synthesis: empty completion")
	}
	return SynthesisResult{Content: text, Sources: SourcesFromChunks(in.Chunks), Style: in.Style}, nil
}

// SummarizeConversation writes a recap of the given messages for the user.
func (s *AnswerSynthesizer) SummarizeConversation(ctx context.Context, msgs []models.Message, priorSummary, style string) (string, error) {
	prof, ok := s.profiles.Profile(style)
	if !ok {
		return "", fmt.Errorf("%w: unknown style %q", ErrInvalidInput, style)
	}
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Summary of earlier conversation:\n" + priorSummary + "\n\n")
	}
	b.WriteString("Conversation:\n")
	writeTranscript(&b, msgs)
	b.WriteString("\nSummarize this conversation for the user: the equipment discussed, the questions asked and the key answers, keeping exact values and units.")

	text, err := s.llm.Complete(ctx, openai.CompletionRequest{
		System:      s.systemPrompt(style, prof),
		User:        b.String(),
		MaxTokens:   prof.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("conversation summary: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("conversation summary: empty completion")
	}
	return text, nil
}

func (s *AnswerSynthesizer) systemPrompt(style string, prof StyleProfile) string {
	return s.profiles.Persona() + "\n\nStyle: " + style + "\n" + prof.Instructions
}

// Semantic buckets, in prompt order. The first bucket whose keywords match wins.
var chunkBuckets = []struct {
	name string
	re   *regexp.Regexp
}{
	{"Safety", regexp.MustCompile(`(?i)\b(warning|caution|danger|hazard|safety|lockout|ppe)\b`)},
	{"Specifications", regexp.MustCompile(`(?i)\b(spec(ification)?s?|rated|rating|maximum|minimum|capacity|dimensions?|pressure|voltage|temperature)\b`)},
	{"Installation", regexp.MustCompile(`(?i)\b(install(ation)?|mount(ing)?|wiring|connect(ion)?|clearance|anchor)\b`)},
	{"Operation", regexp.MustCompile(`(?i)\b(operat(e|ion|ing)|start(up)?|shut ?down|mode|press the|control panel|procedure)\b`)},
}

const generalBucket = "General"

// BucketFor returns the semantic bucket a chunk belongs to.
func BucketFor(c models.Chunk) string {
	if IsSpecLike(c.Content) && !chunkBuckets[0].re.MatchString(c.Content) {
		return "Specifications"
	}
	for _, b := range chunkBuckets {
		if b.re.MatchString(c.Content) {
			return b.name
		}
	}
	return generalBucket
}

func buildAnswerPrompt(in SynthesisInput) string {
	var b strings.Builder

	if len(in.SystemsContext) > 0 {
		labels := make([]string, 0, len(in.SystemsContext))
		for _, sc := range in.SystemsContext {
			labels = append(labels, sc.Label())
		}
		b.WriteString("Equipment in focus: " + strings.Join(labels, ", ") + "\n\n")
	}
	if len(in.RecentMessages) > 0 {
		b.WriteString("Recent conversation:\n")
		writeTranscript(&b, in.RecentMessages)
		b.WriteString("\n")
	}

	b.WriteString("Question: " + in.Query + "\n")
	if in.EnhancedQuery != "" && in.EnhancedQuery != in.Query {
		b.WriteString("Interpreted as: " + in.EnhancedQuery + "\n")
	}
	b.WriteString("\n")

	if len(in.Chunks) == 0 {
		b.WriteString("No manual excerpts were found for this question")
		if in.RetrievalError != "" {
			b.WriteString(" (the manual search was unavailable)")
		}
		b.WriteString(".\nTell the user the available manuals do not contain the specific data they asked for. Do not guess or invent values. Suggest what information would help narrow it down.\n")
		return b.String()
	}

	grouped := map[string][]int{}
	for i, c := range in.Chunks {
		name := BucketFor(c)
		grouped[name] = append(grouped[name], i)
	}
	b.WriteString("Manual excerpts:\n")
	for _, name := range bucketOrder() {
		idx := grouped[name]
		if len(idx) == 0 {
			continue
		}
		b.WriteString("\n### " + name + "\n")
		for _, i := range idx {
			c := in.Chunks[i]
			fmt.Fprintf(&b, "[%d]", i+1)
			if c.Page > 0 {
				fmt.Fprintf(&b, " (page %d)", c.Page)
			}
			if c.ChunkType != "" && c.ChunkType != "text" {
				fmt.Fprintf(&b, " (%s)", c.ChunkType)
			}
			b.WriteString(" " + strings.TrimSpace(c.Content) + "\n")
		}
	}

	b.WriteString("\n")
	if in.Task == TaskAssetOverview {
		b.WriteString("Write an overview of this equipment: what it is, its main components and its key specifications.\n")
	}
	b.WriteString("If the question asks for a specification, quote the exact value and unit from the excerpts. Do not round, convert or generalize it. Cite page numbers where available. If the excerpts do not answer the question, say so.\n")
	return b.String()
}

func bucketOrder() []string {
	out := []string{"Specifications"}
	for _, b := range chunkBuckets {
		if b.name != "Specifications" {
			out = append(out, b.name)
		}
	}
	return append(out, generalBucket)
}

func writeTranscript(b *strings.Builder, msgs []models.Message) {
	for _, m := range msgs {
		fmt.Fprintf(b, "%s: %s\n", m.Role, truncateRunes(strings.TrimSpace(m.Content), 600))
	}
}

// SourcesFromChunks lists where the finalists came from, in finalist order.
func SourcesFromChunks(chunks []models.Chunk) []models.Source {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]models.Source, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, models.Source{
			DocID:        c.DocID,
			Page:         c.Page,
			ChunkIndex:   c.ChunkIndex,
			ChunkType:    c.ChunkType,
			Score:        c.Score,
			Manufacturer: c.Manufacturer,
			Model:        c.Model,
		})
	}
	return out
}
