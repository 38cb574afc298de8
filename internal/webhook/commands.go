package webhook

import "strings"

// Command is a recognized chat command.
type Command string

// Commands understood by the bot. Anything else is answered with a greeting.
const (
	CommandHelp        Command = "help"
	CommandSubscribe   Command = "subscribe"
	CommandUnsubscribe Command = "unsubscribe"
	CommandLatest      Command = "latest"
	CommandGreeting    Command = "greeting"
)

var vocabulary = map[string]Command{
	"도움말":  CommandHelp,
	"help": CommandHelp,
	"시작":   CommandHelp,

	"구독":   CommandSubscribe,
	"알림":   CommandSubscribe,
	"구독하기": CommandSubscribe,

	"구독해제": CommandUnsubscribe,
	"구독취소": CommandUnsubscribe,
	"해제":   CommandUnsubscribe,

	"최신공지": CommandLatest,
	"최신":   CommandLatest,
	"공지":   CommandLatest,
}

// ParseCommand matches trimmed text case-sensitively against the vocabulary.
func ParseCommand(text string) Command {
	if cmd, ok := vocabulary[strings.TrimSpace(text)]; ok {
		return cmd
	}
	return CommandGreeting
}
