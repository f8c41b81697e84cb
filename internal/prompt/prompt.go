// Package prompt resolves named text templates with placeholder substitution
// and composes them into multi-stage analysis sequences.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Template is a named prompt with a declared required-key set. Unresolved
// placeholders are rejected at resolve time instead of being left in the
// output string.
type Template struct {
	Name     string
	Text     string
	Required []string
	Defaults map[string]string
}

func newTemplate(name, text string, defaults map[string]string) Template {
	var required []string
	seen := map[string]struct{}{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		key := m[1]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, hasDefault := defaults[key]; !hasDefault {
			required = append(required, key)
		}
	}
	sort.Strings(required)
	return Template{Name: name, Text: text, Required: required, Defaults: defaults}
}

// Library holds the set of known templates.
type Library struct {
	mu        sync.RWMutex
	templates map[string]Template
	log       zerolog.Logger
}

// NewLibrary builds a library pre-populated with the built-in system prompts.
func NewLibrary(log zerolog.Logger) *Library {
	l := &Library{templates: make(map[string]Template), log: log}
	for name, text := range builtinPrompts {
		l.templates[name] = newTemplate(name, text, nil)
	}
	return l
}

// builtinPrompts are the default analysis prompts, used when a prompts
// directory does not override them.
var builtinPrompts = map[string]string{
	"system_1":                       "Analyze the following text: {text}",
	"system_1_2":                     "Analyze the coherence of the text: {text}",
	"system_1_2_1":                   "Evaluate the Markov dynamics of the text: {text}",
	"system_2":                       "Perform a Jungian analysis of the text: {text}",
	"system_3":                       "Perform a logical analysis of the text: {text}",
	"system_final":                   "Synthesize all previous analyses of the text: {text}",
	"nonverbal_analysis":             "Analyze the nonverbal behaviors in the following video: {text}",
	"manipulation_analysis":          "Identify manipulation strategies in the following content: {text}",
	"diarization_analysis":           "Identify the distinct speakers and their turns in the following audio: {text}",
	"transcription_general_analysis": "Analyze the following transcription and identify key points: {text}",
}

// LoadDir loads templates from dir: every *.txt file becomes a template named
// after its stem, and an optional prompts.json holds a name-to-template map.
// Loaded templates override built-ins of the same name.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read prompts dir: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			l.log.Error().Err(err).Str("file", e.Name()).Msg("prompt load failed")
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".txt")
		l.templates[name] = newTemplate(name, strings.TrimSpace(string(b)), nil)
	}
	collection := filepath.Join(dir, "prompts.json")
	if b, err := os.ReadFile(collection); err == nil {
		var m map[string]string
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("parse prompts.json: %w", err)
		}
		for name, text := range m {
			l.templates[name] = newTemplate(name, text, nil)
		}
	}
	return nil
}

// Add inserts or replaces a template.
func (l *Library) Add(name, text string, defaults map[string]string) {
	l.mu.Lock()
	l.templates[name] = newTemplate(name, text, defaults)
	l.mu.Unlock()
}

// Get returns the template by name.
func (l *Library) Get(name string) (Template, bool) {
	l.mu.RLock()
	t, ok := l.templates[name]
	l.mu.RUnlock()
	return t, ok
}

// Names returns the sorted template names.
func (l *Library) Names() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.templates))
	for name := range l.templates {
		out = append(out, name)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Resolve substitutes bindings into the named template. Every placeholder must
// be covered by a binding or a template default.
func (l *Library) Resolve(name string, bindings map[string]string) (string, error) {
	t, ok := l.Get(name)
	if !ok {
		return "", promptNotFoundError{name: name}
	}
	return resolveTemplate(t, bindings)
}

func resolveTemplate(t Template, bindings map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(t.Text, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := bindings[key]; ok {
			return v
		}
		if v, ok := t.Defaults[key]; ok {
			return v
		}
		missing = append(missing, key)
		return m
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", missingBindingError{template: t.Name, keys: missing}
	}
	return out, nil
}
