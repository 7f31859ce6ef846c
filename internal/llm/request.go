package llm

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 150

	RoleSystem = "system"
	RoleUser   = "user"
)

// Request один запрос к модели: системная инструкция и последнее сообщение пользователя.
// История диалога передаётся только внутри System, не отдельными сообщениями.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

func NewRequest(system, user string) Request {
	return Request{
		System:      system,
		User:        user,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Messages всегда возвращает ровно два сообщения: system, затем user.
func (r Request) Messages() []Message {
	return []Message{
		{Role: RoleSystem, Content: r.System},
		{Role: RoleUser, Content: r.User},
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
