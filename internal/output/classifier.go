package output

import "strings"

// Classifier decides whether a cleaned chunk is program output worth keeping.
// Implementations are heuristics; a chunk may be misclassified either way.
type Classifier interface {
	Keep(text string) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) bool

func (f ClassifierFunc) Keep(text string) bool { return f(text) }

// MarkerClassifier keeps chunks that contain at least one ASCII letter or
// digit and none of the marker substrings.
type MarkerClassifier struct {
	Markers []string
}

// DefaultClassifier drops chunks mentioning "docker" or "node".
func DefaultClassifier() MarkerClassifier {
	return MarkerClassifier{Markers: []string{"docker", "node"}}
}

func (c MarkerClassifier) Keep(text string) bool {
	if !hasAlnum(text) {
		return false
	}
	for _, m := range c.Markers {
		if m != "" && strings.Contains(text, m) {
			return false
		}
	}
	return true
}

func hasAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			return true
		}
	}
	return false
}
