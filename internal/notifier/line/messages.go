package line

import (
	"fmt"

	"github.com/JakeFAU/notice-notifier/internal/notice"
)

// Command keywords users send to the bot. Quick-reply buttons send these.
const (
	KeywordHelp        = "도움말"
	KeywordSubscribe   = "구독"
	KeywordUnsubscribe = "구독해제"
	KeywordLatest      = "최신공지"
)

// TextMessage is a LINE text message object.
type TextMessage struct {
	Type       string      `json:"type"`
	Text       string      `json:"text"`
	QuickReply *QuickReply `json:"quickReply,omitempty"`
}

// QuickReply holds the buttons shown under a message.
type QuickReply struct {
	Items []QuickReplyItem `json:"items"`
}

// QuickReplyItem is one quick-reply button.
type QuickReplyItem struct {
	Type   string        `json:"type"`
	Action MessageAction `json:"action"`
}

// MessageAction makes the user send Text when the button is tapped.
type MessageAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Button is a label/text pair for a quick-reply action.
type Button struct {
	Label string
	Text  string
}

// Text builds a text message with optional quick-reply buttons.
func Text(text string, buttons ...Button) TextMessage {
	msg := TextMessage{Type: "text", Text: text}
	if len(buttons) == 0 {
		return msg
	}
	msg.QuickReply = &QuickReply{Items: make([]QuickReplyItem, 0, len(buttons))}
	for _, b := range buttons {
		msg.QuickReply.Items = append(msg.QuickReply.Items, QuickReplyItem{
			Type:   "action",
			Action: MessageAction{Type: "message", Label: b.Label, Text: b.Text},
		})
	}
	return msg
}

// NoticeMessage announces a post.
func NoticeMessage(post notice.Post) TextMessage {
	return Text(
		fmt.Sprintf("📢 [새 학사공지]\n\n%s\n\n🔗 자세히 보기: %s", post.Title, post.Link),
		Button{Label: "구독 해제", Text: KeywordUnsubscribe},
		Button{Label: "최신공지", Text: KeywordLatest},
	)
}

// SubscribedMessage confirms a subscription.
func SubscribedMessage() TextMessage {
	return Text(
		"✅ 알림 구독이 완료되었습니다!\n\n새로운 학사공지가 올라오면 바로 알려드립니다.",
		Button{Label: "구독 해제", Text: KeywordUnsubscribe},
		Button{Label: "최신공지", Text: KeywordLatest},
	)
}

// UnsubscribedMessage confirms an unsubscription.
func UnsubscribedMessage() TextMessage {
	return Text(
		"❌ 알림 구독이 해제되었습니다.\n\n다시 구독하시려면 아래 버튼을 눌러주세요.",
		Button{Label: "다시 구독", Text: KeywordSubscribe},
		Button{Label: "도움말", Text: KeywordHelp},
	)
}

// HelpMessage explains the commands.
func HelpMessage() TextMessage {
	return Text(
		"📢 호서대학교 학사공지 알림봇입니다!\n\n"+
			"새로운 학사공지를 알려드립니다.\n\n"+
			"💡 사용법:\n"+
			"• '구독' - 알림 구독\n"+
			"• '구독해제' - 알림 해제\n"+
			"• '최신공지' - 최신 공지사항 확인\n"+
			"• '도움말' - 이 메시지 다시 보기",
		Button{Label: "구독하기", Text: KeywordSubscribe},
		Button{Label: "최신공지", Text: KeywordLatest},
		Button{Label: "도움말", Text: KeywordHelp},
	)
}

// GreetingMessage answers unrecognized text.
func GreetingMessage() TextMessage {
	return Text("안녕하세요! 호서대학교 학사공지 알림봇입니다.\n\n'도움말'을 입력하시면 사용법을 확인할 수 있습니다.")
}

// LatestUnavailableMessage is sent when the board yields nothing.
func LatestUnavailableMessage() TextMessage {
	return Text("현재 공지사항을 가져올 수 없습니다. 잠시 후 다시 시도해주세요.")
}

// LatestErrorMessage is sent when looking up the latest post fails.
func LatestErrorMessage() TextMessage {
	return Text("공지사항을 가져오는 중 오류가 발생했습니다.")
}
