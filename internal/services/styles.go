package services

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Answer styles. StyleAuto picks one of the others from the query text.
const (
	StyleBrief          = "brief"
	StyleTechnical      = "technical"
	StyleConversational = "conversational"
	StyleDetailed       = "detailed"
	StyleAuto           = "auto"
)

// deterministicSeed is sent with low-temperature styles so repeated
// questions get repeated answers.
const deterministicSeed = 42

// StyleProfile controls the tone and length of synthesized answers.
type StyleProfile struct {
	Instructions  string  `yaml:"instructions"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	Deterministic bool    `yaml:"deterministic"`
}

// StyleProfiles is an immutable set of named profiles plus the assistant persona.
type StyleProfiles struct {
	persona      string
	defaultStyle string
	profiles     map[string]StyleProfile
}

// DefaultStyleProfiles returns the built-in profiles.
func DefaultStyleProfiles() StyleProfiles {
	return StyleProfiles{
		persona: "You are a technical assistant for industrial equipment manuals. " +
			"Answer from the manual excerpts you are given and say plainly when they do not contain the answer.",
		defaultStyle: StyleConversational,
		profiles: map[string]StyleProfile{
			StyleBrief: {
				Instructions:  "Answer in at most two sentences. Lead with the exact value or action.",
				MaxTokens:     200,
				Temperature:   0,
				Deterministic: true,
			},
			StyleTechnical: {
				Instructions:  "Use precise engineering language. Quote values with their units and cite page numbers. Prefer short lists over prose.",
				MaxTokens:     600,
				Temperature:   0,
				Deterministic: true,
			},
			StyleConversational: {
				Instructions: "Answer in a friendly, plain-spoken tone in one or two short paragraphs.",
				MaxTokens:    500,
				Temperature:  0.7,
			},
			StyleDetailed: {
				Instructions: "Give a thorough answer with headings or numbered steps where they help. Include relevant warnings.",
				MaxTokens:    1200,
				Temperature:  0.3,
			},
		},
	}
}

type styleFile struct {
	Persona      string                  `yaml:"persona"`
	DefaultStyle string                  `yaml:"default_style"`
	Styles       map[string]StyleProfile `yaml:"styles"`
}

// LoadStyleProfiles reads a YAML file and layers it over the defaults.
func LoadStyleProfiles(path string) (StyleProfiles, error) {
	out := DefaultStyleProfiles()
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read style profiles: %w", err)
	}
	var f styleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return out, fmt.Errorf("parse style profiles %s: %w", path, err)
	}
	if p := strings.TrimSpace(f.Persona); p != "" {
		out.persona = p
	}
	for name, prof := range f.Styles {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == StyleAuto {
			continue
		}
		if prof.Temperature < 0 || prof.Temperature > 2 {
			return out, fmt.Errorf("style %q: temperature %v out of range", name, prof.Temperature)
		}
		if prof.MaxTokens <= 0 {
			prof.MaxTokens = 500
		}
		out.profiles[name] = prof
	}
	if d := strings.ToLower(strings.TrimSpace(f.DefaultStyle)); d != "" {
		if _, ok := out.profiles[d]; !ok {
			return out, fmt.Errorf("default_style %q is not a defined style", d)
		}
		out.defaultStyle = d
	}
	return out, nil
}

func (p StyleProfiles) Persona() string { return p.persona }

// Profile returns the named profile. ok is false for unknown names.
func (p StyleProfiles) Profile(name string) (StyleProfile, bool) {
	prof, ok := p.profiles[name]
	return prof, ok
}

var (
	briefHintRe     = regexp.MustCompile(`(?i)^(what is|what's|what are|how much|how many)\b.*\b(pressure|voltage|current|power|temperature|flow|rating|capacity|weight|size|speed|torque|frequency)\b`)
	technicalHintRe = regexp.MustCompile(`(?i)\b(spec(ification)?s?|wiring|schematic|tolerance|torque|datasheet|part number|clearance)\b`)
	detailedHintRe  = regexp.MustCompile(`(?i)\b(explain|step[- ]by[- ]step|procedure|walk me through|how do i|how to|troubleshoot|in detail)\b`)
)

// DetectStyle guesses a style from the wording of a query.
func DetectStyle(query string) string {
	switch {
	case detailedHintRe.MatchString(query):
		return StyleDetailed
	case technicalHintRe.MatchString(query):
		return StyleTechnical
	case briefHintRe.MatchString(query):
		return StyleBrief
	default:
		return StyleConversational
	}
}

// ResolveStyle maps a requested style to a known profile name. It returns
// the detected style for "auto" and an error for unknown names.
func (p StyleProfiles) ResolveStyle(requested, query string) (style string, detected string, err error) {
	s := strings.ToLower(strings.TrimSpace(requested))
	switch {
	case s == "":
		return p.defaultStyle, "", nil
	case s == StyleAuto:
		d := DetectStyle(query)
		return d, d, nil
	}
	if _, ok := p.profiles[s]; !ok {
		return "", "", fmt.Errorf("%w: unknown style %q", ErrInvalidInput, requested)
	}
	return s, "", nil
}
