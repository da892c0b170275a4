package telegram

import (
	"strings"

	"github.com/gotd/td/tg"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// channelIDOffset keeps channel and basic group ids from colliding with user
// ids, following the Bot API's -100 prefix.
const channelIDOffset = 1_000_000_000_000

// extractMessages flattens an updates container into new messages, in
// either direction.
func extractMessages(u tg.UpdatesClass) []domain.Message {
	switch u := u.(type) {
	case *tg.Updates:
		return fromUpdateList(u.Updates)
	case *tg.UpdatesCombined:
		return fromUpdateList(u.Updates)
	case *tg.UpdateShort:
		return fromUpdateList([]tg.UpdateClass{u.Update})
	case *tg.UpdateShortMessage:
		return []domain.Message{{ID: u.ID, ChatID: u.UserID, Text: u.Message, Outgoing: u.Out}}
	case *tg.UpdateShortChatMessage:
		return []domain.Message{{ID: u.ID, ChatID: -u.ChatID, Text: u.Message, Outgoing: u.Out}}
	}
	return nil
}

func fromUpdateList(updates []tg.UpdateClass) []domain.Message {
	var out []domain.Message
	for _, upd := range updates {
		var mc tg.MessageClass
		switch upd := upd.(type) {
		case *tg.UpdateNewMessage:
			mc = upd.Message
		case *tg.UpdateNewChannelMessage:
			mc = upd.Message
		default:
			continue
		}

		msg, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, domain.Message{
			ID:       msg.ID,
			ChatID:   peerChatID(msg.PeerID),
			Text:     messageText(msg),
			Outgoing: msg.Out,
		})
	}
	return out
}

func peerChatID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -(channelIDOffset + p.ChannelID)
	}
	return 0
}

// messageText appends the targets of hidden text links so links behind
// anchor text are detected too.
func messageText(msg *tg.Message) string {
	var urls []string
	for _, e := range msg.Entities {
		if link, ok := e.(*tg.MessageEntityTextURL); ok {
			urls = append(urls, link.URL)
		}
	}
	if len(urls) == 0 {
		return msg.Message
	}
	return msg.Message + "\n" + strings.Join(urls, "\n")
}
