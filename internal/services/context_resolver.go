package services

import (
	"context"
	"regexp"
	"strings"

	"manualqa-backend/internal/logger"
	"manualqa-backend/internal/models"
	"manualqa-backend/internal/store"
)

// Where a resolved systems context came from.
const (
	ContextFromRecentMessage = "recent_message"
	ContextFromThread        = "thread"
	ContextFromLookup        = "lookup"
	ContextNone              = "none"
)

// followUpRule flags a query as depending on earlier turns.
type followUpRule struct {
	name  string
	match func(q string) bool
}

var (
	possessiveRe   = regexp.MustCompile(`(?i)\b(its|their|theirs)\b`)
	continuationRe = regexp.MustCompile(`(?i)^(and|also|then|what about|how about|same for|and what about)\b`)
	implicitRe     = regexp.MustCompile(`(?i)^(what|what's|whats|how much|how many|how long|can|does|do|is|are|will)\b`)
	pronounRe      = regexp.MustCompile(`(?i)\b(it|this|that|them)\b`)
)

// followUpRules are tried in order; the first hit names the reason.
var followUpRules = []followUpRule{
	{name: "possessive", match: possessiveRe.MatchString},
	{name: "continuation", match: continuationRe.MatchString},
	// Short questions such as "what's the max flow?". Resolve drops the flag
	// when the question names known equipment.
	{name: "implicit-subject", match: func(q string) bool {
		return implicitRe.MatchString(q) && len(strings.Fields(q)) <= 6
	}},
}

// DetectFollowUp returns the name of the first matching follow-up rule, or "".
func DetectFollowUp(query string) string {
	q := strings.TrimSpace(query)
	for _, r := range followUpRules {
		if r.match(q) {
			return r.name
		}
	}
	return ""
}

// HasAmbiguousPronoun reports whether the query uses it/this/that/them as a whole word.
func HasAmbiguousPronoun(query string) bool {
	return pronounRe.MatchString(query)
}

// questionPrefixes are removed from the front of a query before an equipment lookup.
// Longer phrases come first so "what is the" wins over "what is".
var questionPrefixes = []string{
	"can you tell me about", "can you tell me", "could you tell me", "please tell me",
	"what is the", "what's the", "whats the", "what are the", "what is", "what's", "what are",
	"how do i", "how do you", "how does the", "how does", "how to", "how much", "how many",
	"tell me about", "tell me", "show me", "give me", "explain", "describe",
	"does the", "is the", "can i", "can the", "please",
}

// StripQuestionPrefixes removes leading question phrases, repeatedly.
func StripQuestionPrefixes(query string) string {
	q := strings.TrimSpace(query)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(q)
		for _, p := range questionPrefixes {
			if lower == p || strings.HasPrefix(lower, p+" ") {
				q = strings.TrimSpace(q[len(p):])
				changed = true
				break
			}
		}
	}
	return strings.TrimRight(q, "?!. ")
}

// rewriteRule turns a follow-up into a self-contained query. ok=false passes to the next rule.
type rewriteRule struct {
	name  string
	apply func(query, label string) (string, bool)
}

var howPrefixRe = regexp.MustCompile(`(?i)^(how does|how to)\s+(\S+)(\s+|$)`)

var rewriteRules = []rewriteRule{
	{name: "label-present", apply: func(q, label string) (string, bool) {
		return q, strings.Contains(strings.ToLower(q), strings.ToLower(label))
	}},
	{name: "pronoun", apply: func(q, label string) (string, bool) {
		loc := pronounRe.FindStringIndex(q)
		if loc == nil {
			return q, false
		}
		return q[:loc[0]] + "the " + label + q[loc[1]:], true
	}},
	{name: "how-splice", apply: func(q, label string) (string, bool) {
		m := howPrefixRe.FindStringSubmatchIndex(q)
		if m == nil {
			return q, false
		}
		// "how does <subject>" takes the label right after "does",
		// "how to <verb> <object>" after the verb.
		cut := m[1]
		if strings.EqualFold(q[m[2]:m[3]], "how does") {
			cut = m[4]
		}
		head := strings.TrimRight(q[:cut], " ")
		rest := strings.TrimSpace(q[cut:])
		if len(rest) >= 4 && strings.EqualFold(rest[:4], "the ") {
			rest = rest[4:]
		}
		if rest == "" {
			return head + " the " + label, true
		}
		return head + " the " + label + " " + rest, true
	}},
	{name: "suffix", apply: func(q, label string) (string, bool) {
		return strings.TrimSpace(q) + " — " + label, true
	}},
}

// RewriteQuery makes a follow-up self-contained using the first system in
// context. It is deterministic and the first matching rule wins.
func RewriteQuery(query string, systems []models.SystemRef) string {
	if len(systems) == 0 {
		return query
	}
	label := systems[0].Label()
	for _, r := range rewriteRules {
		if out, ok := r.apply(query, label); ok {
			return out
		}
	}
	return query
}

// ResolvedContext is the outcome of context resolution for one query.
type ResolvedContext struct {
	EffectiveQuery string
	SystemsContext []models.SystemRef
	FollowUpRule   string
	Pronoun        bool
	Source         string
	Rewritten      bool
}

type ContextResolver struct {
	systems store.SystemStore
	limit   int
	log     *logger.Logger
}

func NewContextResolver(systems store.SystemStore, log *logger.Logger) *ContextResolver {
	return &ContextResolver{systems: systems, limit: 3, log: log.With("service", "ContextResolver")}
}

// Resolve picks the systems context for a query.
//
// Follow-ups and pronoun queries reuse the newest non-empty context, looking
// at recent messages (newest first) before the thread metadata. A short
// question that names known equipment is not a follow-up. Every other query
// gets a fresh systems lookup.
func (r *ContextResolver) Resolve(ctx context.Context, query string, thread models.ThreadMetadata, recent []models.Message) ResolvedContext {
	out := ResolvedContext{
		EffectiveQuery: query,
		FollowUpRule:   DetectFollowUp(query),
		Pronoun:        HasAmbiguousPronoun(query),
		Source:         ContextNone,
	}
	if out.FollowUpRule == "implicit-subject" && !out.Pronoun {
		if named := r.lookup(ctx, StripQuestionPrefixes(query)); len(named) > 0 {
			out.FollowUpRule = ""
			out.SystemsContext = named
			out.Source = ContextFromLookup
			return out
		}
	}
	flagged := out.FollowUpRule != "" || out.Pronoun

	if flagged {
		if prior, src := priorContext(thread, recent); len(prior) > 0 {
			out.SystemsContext = prior
			out.Source = src
		} else {
			out.SystemsContext = r.lookup(ctx, StripQuestionPrefixes(query))
		}
	} else {
		out.SystemsContext = r.lookup(ctx, query)
	}
	if out.Source == ContextNone && len(out.SystemsContext) > 0 {
		out.Source = ContextFromLookup
	}

	if flagged && len(out.SystemsContext) > 0 {
		out.EffectiveQuery = RewriteQuery(query, out.SystemsContext)
		out.Rewritten = out.EffectiveQuery != query
	}
	return out
}

func priorContext(thread models.ThreadMetadata, recent []models.Message) ([]models.SystemRef, string) {
	for i := len(recent) - 1; i >= 0; i-- {
		if sc := recent[i].Metadata.SystemsContext; len(sc) > 0 {
			return append([]models.SystemRef(nil), sc...), ContextFromRecentMessage
		}
	}
	if len(thread.SystemsContext) > 0 {
		return append([]models.SystemRef(nil), thread.SystemsContext...), ContextFromThread
	}
	return nil, ContextNone
}

// lookup degrades to an empty context on failure.
func (r *ContextResolver) lookup(ctx context.Context, text string) []models.SystemRef {
	terms := equipmentTerms(text)
	if terms == "" || r.systems == nil {
		return nil
	}
	refs, err := r.systems.SearchSystems(ctx, terms, r.limit)
	if err != nil {
		r.log.Warn("systems lookup failed, continuing without context", "error", err)
		return nil
	}
	return refs
}

var lookupStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "on": true, "in": true, "to": true,
	"and": true, "or": true, "is": true, "are": true, "what": true, "how": true, "does": true,
	"do": true, "i": true, "my": true, "me": true, "with": true, "can": true, "should": true,
	"it": true, "this": true, "that": true, "them": true, "its": true, "about": true,
}

func equipmentTerms(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	})
	kept := words[:0]
	for _, w := range words {
		if !lookupStopWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
