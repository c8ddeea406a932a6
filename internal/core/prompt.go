package core

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
)

const answerInstructions = "Please provide a comprehensive, detailed, well-cited and accurate response using the above context. " +
	"Think and reason deeply. Ensure it answers the query the user is asking. " +
	"Do not use your own knowledge unless the context is insufficient."

var ErrSequenceConsumed = errors.New("fragment sequence already consumed")

// BuildPrompt renders the ranked sources and the query into one generation prompt.
func BuildPrompt(query string, sources []Document) string {
	var b strings.Builder
	b.WriteString("Context from web search:\n")
	for i, doc := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Source %d (%s):\n%s", i+1, doc.URL, doc.Content)
	}
	fmt.Fprintf(&b, "\n\nQuery: %s\n\n%s", query, answerInstructions)
	return b.String()
}

// singleUse wraps seq so that only the first range over it reaches the
// backend; later ranges yield ErrSequenceConsumed.
func singleUse(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrSequenceConsumed)
			return
		}
		seq(yield)
	}
}
