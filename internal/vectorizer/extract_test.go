package vectorizer

import (
	"testing"
	"time"
)

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"capitalized bigram", "ask John Smith about it", []string{"John Smith"}},
		{"iso date", "due on 2026-03-15 please", []string{"2026-03-15"}},
		{"clock time", "meet at 14:30 sharp", []string{"14:30"}},
		{"currency", "it costs $1,200.50 total", []string{"$1,200.50"}},
		{"acronym", "check the SLA first", []string{"SLA"}},
		{"none", "nothing interesting here", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractEntities(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractEntities(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entity[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractEntitiesDeduplicates(t *testing.T) {
	got := ExtractEntities("NASA called NASA again")
	if len(got) != 1 || got[0] != "NASA" {
		t.Errorf("ExtractEntities = %v, want [NASA]", got)
	}
}

func TestExtractTopics(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"machine learning", "I want to learn machine learning", []string{"machine_learning"}},
		{"food", "what's for lunch?", []string{"food"}},
		{"none", "hello there", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTopics(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractTopics(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("topic[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"What did we discuss about machine learning?", IntentQuestion},
		{"how does this work", IntentQuestion},
		{"please write a summary", IntentRequest},
		{"explain the design", IntentRequest},
		{"no, i meant the other one", IntentClarification},
		{"tell me more about that", IntentContinuation},
		{"the weather is nice", IntentNewTopic},
		{"", IntentNewTopic},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ClassifyIntent(tt.text); got != tt.want {
				t.Errorf("ClassifyIntent(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractTemporalContext(t *testing.T) {
	tc := ExtractTemporalContext("what did I say earlier today?")
	if tc == nil {
		t.Fatal("expected a temporal context")
	}
	if tc.Phrase != "earlier today" {
		t.Errorf("Phrase = %q, want %q (longest match wins)", tc.Phrase, "earlier today")
	}
	if tc.Lookback != 12*time.Hour {
		t.Errorf("Lookback = %v, want 12h", tc.Lookback)
	}

	if tc := ExtractTemporalContext("no time words here"); tc != nil {
		t.Errorf("expected nil, got %+v", tc)
	}
}

func TestEntityOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"A", "B"}, []string{"a", "b"}, 1},
		{"half", []string{"A", "B"}, []string{"B", "C"}, 1.0 / 3.0},
		{"disjoint", []string{"A"}, []string{"B"}, 0},
		{"empty side", nil, []string{"A"}, 0},
		{"both empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EntityOverlap(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("EntityOverlap = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopicSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y"}, []string{"x", "y"}, 1},
		{"subset", []string{"x"}, []string{"x", "y"}, 0.5},
		{"disjoint", []string{"x"}, []string{"y"}, 0},
		{"empty side", []string{"x"}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TopicSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("TopicSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
