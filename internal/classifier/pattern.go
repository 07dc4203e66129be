package classifier

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rules configures a PatternClassifier.
type Rules struct {
	Categories   map[string][]string `yaml:"categories"`
	ToxicWords   []string            `yaml:"toxic_words"`
	SafeContexts map[string][]string `yaml:"safe_contexts"`
}

// PatternClassifier flags text by phrase patterns and single toxic words.
// A toxic word is ignored when one of its safe contexts appears in the text.
type PatternClassifier struct {
	categories   []category
	words        *goahocorasick.Machine
	safeContexts map[string][]*regexp.Regexp
}

type category struct {
	name     string
	patterns []*regexp.Regexp
}

// NewPatternClassifier builds a classifier from the embedded rule set.
func NewPatternClassifier() (*PatternClassifier, error) {
	return NewPatternClassifierFromYAML(defaultRules)
}

// NewPatternClassifierFromYAML builds a classifier from a YAML rule set.
func NewPatternClassifierFromYAML(raw []byte) (*PatternClassifier, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}
	return NewPatternClassifierFromRules(rules)
}

// NewPatternClassifierFromRules compiles rules.
func NewPatternClassifierFromRules(rules Rules) (*PatternClassifier, error) {
	c := &PatternClassifier{safeContexts: make(map[string][]*regexp.Regexp)}

	names := make([]string, 0, len(rules.Categories))
	for name := range rules.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		compiled, err := compileAll(rules.Categories[name])
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		c.categories = append(c.categories, category{name: name, patterns: compiled})
	}

	for word, patterns := range rules.SafeContexts {
		compiled, err := compileAll(patterns)
		if err != nil {
			return nil, fmt.Errorf("safe context %s: %w", word, err)
		}
		c.safeContexts[strings.ToLower(word)] = compiled
	}

	if len(rules.ToxicWords) > 0 {
		words := make([]string, 0, len(rules.ToxicWords))
		for _, w := range rules.ToxicWords {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				words = append(words, w)
			}
		}
		sort.Strings(words)
		words = slices.Compact(words)

		patterns := make([][]rune, len(words))
		for i, w := range words {
			patterns[i] = []rune(w)
		}
		m := new(goahocorasick.Machine)
		if err := m.Build(patterns); err != nil {
			return nil, fmt.Errorf("build toxic word matcher: %w", err)
		}
		c.words = m
	}

	return c, nil
}

func (c *PatternClassifier) Name() string { return "pattern" }

func (c *PatternClassifier) Classify(_ context.Context, text string) (Verdict, error) {
	processed := preprocess(text)
	verdict := Verdict{Categories: make(map[string]bool, len(c.categories))}

	for _, cat := range c.categories {
		verdict.Categories[cat.name] = false
		for _, re := range cat.patterns {
			if re.MatchString(processed) {
				verdict.Categories[cat.name] = true
				verdict.Toxic = true
				break
			}
		}
	}

	if !verdict.Toxic {
		verdict.Toxic = c.hasUnsafeWord(processed)
	}
	if verdict.Toxic {
		verdict.Score = 1.0
	}
	return verdict, nil
}

func (c *PatternClassifier) hasUnsafeWord(text string) bool {
	if c.words == nil {
		return false
	}
	runes := []rune(text)
	for _, term := range c.words.MultiPatternSearch(runes, false) {
		start, end := term.Pos, term.Pos+len(term.Word)
		if !isBoundary(runes, start-1) || !isBoundary(runes, end) {
			continue
		}
		if !c.inSafeContext(text, string(term.Word)) {
			return true
		}
	}
	return false
}

func (c *PatternClassifier) inSafeContext(text, word string) bool {
	for _, re := range c.safeContexts[word] {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func isBoundary(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return true
	}
	r := runes[i]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func preprocess(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
