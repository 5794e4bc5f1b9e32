package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/aide/pkg/aide/store"
)

// baseInstructions is embedded verbatim into every system prompt. It
// establishes the memory discipline the remember/recall tools rely on.
const baseInstructions = `You are aide, a personal assistant with persistent memory.

You have access to a long-term memory store:
- Always call recall before calling remember, so you know what is already stored.
- Each remember call stores ONE atomic fact.
- To update an existing memory, pass its id as replace_id; otherwise the old and new facts will coexist.
- Be selective: only remember things genuinely worth keeping.`

// buildSystemPrompt assembles the first-exchange system message: base
// instructions, the current time, and any recalled memories.
func buildSystemPrompt(now time.Time, matches []store.MemoryMatch) string {
	var b strings.Builder
	b.WriteString(baseInstructions)
	b.WriteString("\n\nCurrent time: ")
	b.WriteString(now.Format("Monday, January 2, 2006 at 15:04 MST"))

	if len(matches) > 0 {
		b.WriteString("\n\nRelevant context from memory:\n")
		for _, m := range matches {
			fmt.Fprintf(&b, "- %s\n", m.Entry.Content)
		}
	}
	return b.String()
}
