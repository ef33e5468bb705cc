package rag

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var knowledgeYAML []byte

// Entry is one knowledge base topic.
type Entry struct {
	Topic   string `yaml:"topic"`
	Source  string `yaml:"source"`
	Content string `yaml:"content"`
}

// KnowledgeBase is an in-memory topic index.
type KnowledgeBase struct {
	entries []Entry
	byTopic map[string]int
}

// LoadKnowledgeBase parses the embedded knowledge base.
func LoadKnowledgeBase() (*KnowledgeBase, error) {
	return ParseKnowledgeBase(knowledgeYAML)
}

// ParseKnowledgeBase parses a YAML document with a top-level "topics" list.
func ParseKnowledgeBase(data []byte) (*KnowledgeBase, error) {
	var doc struct {
		Topics []Entry `yaml:"topics"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	kb := &KnowledgeBase{byTopic: make(map[string]int, len(doc.Topics))}
	for _, e := range doc.Topics {
		key := normalizeTopic(e.Topic)
		if key == "" {
			return nil, fmt.Errorf("knowledge base entry without topic")
		}
		if _, dup := kb.byTopic[key]; dup {
			return nil, fmt.Errorf("duplicate knowledge base topic %q", e.Topic)
		}
		e.Content = strings.TrimSpace(e.Content)
		kb.byTopic[key] = len(kb.entries)
		kb.entries = append(kb.entries, e)
	}
	return kb, nil
}

// Entries returns every topic in file order.
func (kb *KnowledgeBase) Entries() []Entry {
	out := make([]Entry, len(kb.entries))
	copy(out, kb.entries)
	return out
}

// Retrieve resolves each topic by exact match first, then by the first entry
// whose topic contains it or is contained in it. Each entry is returned at
// most once.
func (kb *KnowledgeBase) Retrieve(_ context.Context, topics []string) ([]Snippet, error) {
	var out []Snippet
	seen := make(map[int]bool)
	for _, t := range topics {
		q := normalizeTopic(t)
		if q == "" {
			continue
		}
		if i, ok := kb.byTopic[q]; ok {
			if !seen[i] {
				seen[i] = true
				out = append(out, kb.snippet(i, 1))
			}
			continue
		}
		for i, e := range kb.entries {
			key := normalizeTopic(e.Topic)
			if seen[i] || !(strings.Contains(key, q) || strings.Contains(q, key)) {
				continue
			}
			seen[i] = true
			out = append(out, kb.snippet(i, 0.5))
			break
		}
	}
	return out, nil
}

func (kb *KnowledgeBase) snippet(i int, score float64) Snippet {
	e := kb.entries[i]
	return Snippet{Topic: e.Topic, Content: e.Content, Source: e.Source, Score: score}
}
