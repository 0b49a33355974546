package testutil

import (
	"context"
	"sync"
)

// FakeCompleter is a scripted llm.Completer. With Reply empty it stays
// silent, which callers must treat as "no enrichment".
type FakeCompleter struct {
	mu      sync.Mutex
	Reply   string
	prompts []string
}

// Complete records prompt and returns Reply when set.
func (f *FakeCompleter) Complete(_ context.Context, prompt, _ string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.Reply == "" {
		return "", false
	}
	return f.Reply, true
}

// Prompts returns the prompts received so far.
func (f *FakeCompleter) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}
