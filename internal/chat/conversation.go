package chat

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn одно сообщение диалога. После создания не меняется.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation упорядоченная история сессии. Порядок вставки = хронология;
// чередование user/assistant не проверяется.
// Не потокобезопасна: мутирует её только Controller под своим мьютексом.
type Conversation struct {
	turns []Turn
}

func (c *Conversation) Append(turn Turn) {
	c.turns = append(c.turns, turn)
}

// Turns возвращает копию, чтобы избежать изменений снаружи.
func (c *Conversation) Turns() []Turn {
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	return turns
}

func (c *Conversation) Len() int {
	return len(c.turns)
}

func (c *Conversation) Reset() {
	c.turns = nil
}
