package enums

type ChatState string

const (
	StateIdle    ChatState = "idle"
	StateWaiting ChatState = "waiting"
	StateInChat  ChatState = "in_chat"
	StateHosting ChatState = "hosting"
)

func ParseChatState(value string) ChatState {
	switch ChatState(value) {
	case StateIdle, StateWaiting, StateInChat, StateHosting:
		return ChatState(value)
	default:
		return StateIdle
	}
}

func (s ChatState) Busy() bool {
	return s == StateWaiting || s == StateInChat || s == StateHosting
}
