package services

import (
	"context"
	"fmt"
	"strings"

	"manualqa-backend/internal/clients/openai"
	"manualqa-backend/internal/logger"
)

// Intent is the closed set of labels the classifier can produce.
type Intent int

const (
	IntentOther Intent = iota
	IntentChat
	IntentSummarize
	IntentAssetSummary
)

func (i Intent) String() string {
	switch i {
	case IntentChat:
		return "chat"
	case IntentSummarize:
		return "summarize"
	case IntentAssetSummary:
		return "asset_summary"
	default:
		return "other"
	}
}

// ParseIntent maps raw model output onto an Intent. Anything unrecognised is IntentOther.
func ParseIntent(raw string) Intent {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, `"'.`)
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "chat":
		return IntentChat
	case "summarize", "summarise", "summary", "summarization":
		return IntentSummarize
	case "asset_summary", "assetsummary":
		return IntentAssetSummary
	default:
		return IntentOther
	}
}

// Processing pipelines selected by the router.
const (
	PipelineStandard      = "standard"
	PipelineSummarization = "summarization"
	PipelineAssetSummary  = "asset_summary"
)

const fallbackReasoning = "Classification unavailable; treating the query as a regular question."

// Classification is the classifier's verdict for one query.
type Classification struct {
	Intent     Intent
	Confidence float64
	Reasoning  string
}

// LLM is the completion boundary the pipeline stages depend on.
type LLM interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (string, error)
	CompleteJSON(ctx context.Context, req openai.CompletionRequest, schemaName string, schema map[string]any) (map[string]any, error)
}

// IntentClassifier labels queries. It never fails: errors and out-of-set
// labels produce the chat fallback.
type IntentClassifier struct {
	llm LLM
	log *logger.Logger
}

func NewIntentClassifier(llm LLM, log *logger.Logger) *IntentClassifier {
	return &IntentClassifier{llm: llm, log: log.With("service", "IntentClassifier")}
}

const intentSystemPrompt = `You route questions sent to an equipment manual assistant.
Pick exactly one label:
- chat: a question about equipment, specifications, operation, troubleshooting or anything else
- summarize: the user asks to summarize or recap the current conversation
- asset_summary: the user asks for an overview of a whole machine or system (what it is, its main specs and features)
Reply with JSON only.`

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent":     map[string]any{"type": "string", "enum": []string{"chat", "summarize", "asset_summary"}},
		"confidence": map[string]any{"type": "number"},
		"reasoning":  map[string]any{"type": "string"},
	},
	"required":             []string{"intent", "confidence", "reasoning"},
	"additionalProperties": false,
}

func (c *IntentClassifier) Classify(ctx context.Context, query string) Classification {
	fallback := Classification{Intent: IntentChat, Confidence: 0.5, Reasoning: fallbackReasoning}
	if c == nil || c.llm == nil {
		return fallback
	}

	obj, err := c.llm.CompleteJSON(ctx, openai.CompletionRequest{
		System:      intentSystemPrompt,
		User:        query,
		MaxTokens:   150,
		Temperature: 0,
	}, "intent_classification", intentSchema)
	if err != nil {
		c.log.Warn("intent classification failed, using fallback", "error", err)
		return fallback
	}

	intent := ParseIntent(fmt.Sprint(obj["intent"]))
	if intent == IntentOther {
		c.log.Warn("intent outside label set, using fallback", "raw", obj["intent"])
		return fallback
	}
	conf, _ := obj["confidence"].(float64)
	reasoning, _ := obj["reasoning"].(string)
	return Classification{
		Intent:     intent,
		Confidence: min(max(conf, 0), 1),
		Reasoning:  strings.TrimSpace(reasoning),
	}
}

// Route is the router's decision for one query.
type Route struct {
	Intent                  Intent
	Confidence              float64
	Pipeline                string
	RequiresSpecialHandling bool
}

type classifier interface {
	Classify(ctx context.Context, query string) Classification
}

type QueryRouter struct {
	classifier classifier
	log        *logger.Logger
}

func NewQueryRouter(c classifier, log *logger.Logger) *QueryRouter {
	return &QueryRouter{classifier: c, log: log.With("service", "QueryRouter")}
}

// Route picks a processing pipeline. A failing classifier yields the standard pipeline.
func (r *QueryRouter) Route(ctx context.Context, query string) (route Route) {
	route = Route{Intent: IntentChat, Confidence: 0.5, Pipeline: PipelineStandard}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("intent classifier panicked, routing to standard pipeline", "panic", p)
			route = Route{Intent: IntentChat, Confidence: 0.5, Pipeline: PipelineStandard}
		}
	}()
	if r.classifier == nil {
		return route
	}

	cls := r.classifier.Classify(ctx, query)
	route.Intent = cls.Intent
	route.Confidence = cls.Confidence
	switch cls.Intent {
	case IntentSummarize:
		route.Pipeline = PipelineSummarization
		route.RequiresSpecialHandling = true
	case IntentAssetSummary:
		route.Pipeline = PipelineAssetSummary
		route.RequiresSpecialHandling = true
	}
	return route
}
