package llm

import (
	"context"
	"sync"
)

// StaticEmbedder is a deterministic, dependency-free Embedder: a fixed
// 4-dimensional character profile of the text. It exists so retrieval and
// the end-to-end pipeline can run reproducibly without a network.
type StaticEmbedder struct{}

var _ Embedder = StaticEmbedder{}

func (StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	var length, vowels, digits, spaces float32
	for _, r := range text {
		length++
		switch {
		case r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u' ||
			r == 'A' || r == 'E' || r == 'I' || r == 'O' || r == 'U':
			vowels++
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '\n' || r == '\t':
			spaces++
		}
	}
	return []float32{length, vowels, digits, spaces}, nil
}

// ScriptedCompleter replays canned responses in order and records every
// prompt it received. When the script is exhausted it repeats the last
// response; a non-nil Err is returned instead of any response.
type ScriptedCompleter struct {
	mu        sync.Mutex
	Responses []string
	Err       error

	Prompts []string
	calls   int
}

var _ Completer = (*ScriptedCompleter)(nil)

func (s *ScriptedCompleter) Complete(_ context.Context, _ string, userPrompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, userPrompt)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Responses) == 0 {
		return "", nil
	}
	idx := s.calls
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.calls++
	return s.Responses[idx], nil
}

// Calls reports how many completions were requested.
func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
