package chat

import (
	"fmt"
	"strings"
	"testing"
)

const contextHeader = "# CURRENT CONVERSATION CONTEXT"

func TestComposeFirstTurnOmitsContext(t *testing.T) {
	composer := NewComposer(DefaultPersona())
	prompt := composer.Compose([]Turn{{Role: RoleUser, Content: "最初のメッセージ"}})

	if strings.Contains(prompt, contextHeader) {
		t.Fatalf("first turn must not have a context block:\n%s", prompt)
	}
	if strings.Contains(prompt, "最初のメッセージ") {
		t.Fatalf("newest user turn leaked into system prompt")
	}
}

func TestComposeContextWindowBound(t *testing.T) {
	var turns []Turn
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: fmt.Sprintf("prior-%d", i)})
	}
	turns = append(turns, Turn{Role: RoleUser, Content: "newest"})

	block := NewComposer(DefaultPersona()).ContextBlock(turns)

	if got := strings.Count(block, " said: "); got != 4 {
		t.Fatalf("expected 4 context lines, got %d:\n%s", got, block)
	}
	for i := 6; i < 10; i++ {
		if !strings.Contains(block, fmt.Sprintf("prior-%d\n", i)) {
			t.Fatalf("expected prior-%d in context:\n%s", i, block)
		}
	}
	if strings.Contains(block, "prior-5\n") {
		t.Fatalf("context must not reach beyond 4 turns:\n%s", block)
	}
	if strings.Contains(block, "newest") {
		t.Fatalf("newest user turn must not be in context block")
	}
}

func TestComposeContextShortHistory(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "元気?"},
		{Role: RoleAssistant, Content: "まあまあだな"},
		{Role: RoleUser, Content: "なんで?"},
	}
	block := NewComposer(DefaultPersona()).ContextBlock(turns)

	want := "\n\n# CURRENT CONVERSATION CONTEXT (IMPORTANT)\n" +
		"The user and you are currently talking about:\n" +
		"- User said: 元気?\n" +
		"- You said: まあまあだな\n" +
		"\nRespond to the LAST 'User said' message, but keep the above context in mind so it makes sense.\n"
	if block != want {
		t.Fatalf("unexpected context block:\n%q\nwant:\n%q", block, want)
	}
}

func TestComposeOrder(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}
	prompt := NewComposer(DefaultPersona()).Compose(turns)

	persona := strings.Index(prompt, "## Style Guide")
	context := strings.Index(prompt, contextHeader)
	guard := strings.Index(prompt, "## Negative Constraints (CRITICAL)")
	if persona < 0 || context < 0 || guard < 0 {
		t.Fatalf("missing section in prompt:\n%s", prompt)
	}
	if !(persona < context && context < guard) {
		t.Fatalf("sections out of order: persona=%d context=%d guard=%d", persona, context, guard)
	}
}

func TestComposeMentionsPersonaRules(t *testing.T) {
	prompt := NewComposer(DefaultPersona()).Compose([]Turn{{Role: RoleUser, Content: "x"}})
	for _, want := range []string{
		`You are "短髪" (Tanpatsu).`,
		`First Person: "俺" (Ore).`,
		"Keep responses short (1-3 sentences)",
		`NEVER use the "@" symbol.`,
		`NEVER say "User" or "Tanpatsu" in your output.`,
		"2024/08/13",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestComposeCustomAssistantLabel(t *testing.T) {
	persona := DefaultPersona()
	persona.AssistantLabel = "Bot"
	block := NewComposer(persona).ContextBlock([]Turn{
		{Role: RoleAssistant, Content: "hey"},
		{Role: RoleUser, Content: "yo"},
	})
	if !strings.Contains(block, "- Bot said: hey\n") {
		t.Fatalf("expected custom label, got:\n%s", block)
	}
}
