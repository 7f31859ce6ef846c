package chat

import (
	"fmt"
	"strings"
)

// contextWindow сколько предыдущих реплик попадает в блок контекста.
const contextWindow = 4

// Persona фиксированный блок стиля и голоса ассистента.
type Persona struct {
	Name           string   // имя персонажа, как его видит модель
	Romanized      string   // латиница, запрещена в ответах
	AssistantLabel string   // подпись реплик ассистента в блоке контекста
	StyleGuide     []string // язык, местоимение, частицы, тон
	ContextRules   []string // поддержание нити разговора и формат ответа
	LanguageRules  []string
}

// DefaultPersona голос "短髪".
func DefaultPersona() Persona {
	return Persona{
		Name:           "短髪",
		Romanized:      "Tanpatsu",
		AssistantLabel: "You",
		StyleGuide: []string{
			"Language: Casual Japanese, Blunt, Rough but friendly.",
			`First Person: "俺" (Ore).`,
			`Phrases: "だろ", "じゃん", "な", "さ", "ぜ", "笑笑", "www".`,
			"Tone: Relaxed, sometimes cynical, often short.",
		},
		ContextRules: []string{
			"**Maintain the Conversation Flow**: Do NOT treat this as a Q&A. This is a continuous chat.",
			"**Reference History**: If the user asks a follow-up question, answer based on the previous messages.",
			"**Coherence**: Ensure your response connects logically to what was just said.",
			"**Short & Punchy**: Keep responses short (1-3 sentences), like a real LINE message.",
		},
		LanguageRules: []string{
			"User input will be in Japanese.",
			"Respond in Japanese.",
		},
	}
}

// Composer собирает системную инструкцию на один ход.
type Composer struct {
	persona Persona
	block   string
	guard   string
}

func NewComposer(persona Persona) *Composer {
	return &Composer{
		persona: persona,
		block:   renderPersona(persona),
		guard:   renderConstraints(persona),
	}
}

// Compose принимает всю историю, уже содержащую новое сообщение пользователя.
// Порядок фиксирован: персона, контекст (если есть), запреты.
func (c *Composer) Compose(turns []Turn) string {
	var sb strings.Builder
	sb.WriteString(c.block)
	sb.WriteString(c.ContextBlock(turns))
	sb.WriteString(c.guard)
	return sb.String()
}

// ContextBlock до четырёх реплик перед последней. Последняя (текущее сообщение)
// не включается: она уходит отдельным user-сообщением.
// Для первой реплики сессии возвращает пустую строку.
func (c *Composer) ContextBlock(turns []Turn) string {
	if len(turns) <= 1 {
		return ""
	}
	window := recentWindow(turns)

	var sb strings.Builder
	sb.WriteString("\n\n# CURRENT CONVERSATION CONTEXT (IMPORTANT)\n")
	sb.WriteString("The user and you are currently talking about:\n")
	for _, turn := range window {
		fmt.Fprintf(&sb, "- %s said: %s\n", c.label(turn.Role), turn.Content)
	}
	sb.WriteString("\nRespond to the LAST 'User said' message, but keep the above context in mind so it makes sense.\n")
	return sb.String()
}

func (c *Composer) label(role Role) string {
	if role == RoleUser {
		return "User"
	}
	return c.persona.AssistantLabel
}

// recentWindow срез [len-5, len-1) с поджатием к началу истории.
func recentWindow(turns []Turn) []Turn {
	end := len(turns) - 1
	start := max(end-contextWindow, 0)
	return turns[start:end]
}

func renderPersona(p Persona) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nYou are %q (%s).\n", p.Name, p.Romanized)
	fmt.Fprintf(&sb, "Your role is to chat with the user in the exact style of %q.\n", p.Name)
	sb.WriteString("\n## Style Guide\n")
	writeBullets(&sb, p.StyleGuide)
	sb.WriteString("\n## Critical Instruction on Context\n")
	writeBullets(&sb, p.ContextRules)
	sb.WriteString("\n")
	for _, line := range p.LanguageRules {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderConstraints(p Persona) string {
	var sb strings.Builder
	sb.WriteString("\n\n## Negative Constraints (CRITICAL)\n")
	writeBullets(&sb, []string{
		`NEVER use double quotes (") around your text.`,
		`NEVER use the "@" symbol.`,
		fmt.Sprintf(`NEVER say "User" or %q in your output. Just speak naturally.`, p.Romanized),
		"Do NOT repeat the user's name unnecessarily.",
		`NEVER output timestamps, file names, or metadata (e.g., "コマ撮り動画 2024...", "[Album]", "2024/08/13").`,
	})
	return sb.String()
}

func writeBullets(sb *strings.Builder, lines []string) {
	for _, line := range lines {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}
