// Package dispatch 把解码后的子消息按 method 映射成统一的 types.Message。
//
// 映射表在 New 时一次性建好，未知 method 直接忽略，新的消息类型不会影响已有连接。
package dispatch

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BetaCatPro/livelink/internal/protocol"
	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
)

var (
	// ErrMissingMethod 子消息没有 method
	ErrMissingMethod = stderrors.New("sub-message has no method")
	// ErrMissingUser 需要用户的消息缺少用户 id
	ErrMissingUser = stderrors.New("sub-message has no user id")
)

type handlerFunc func(roomID string, payload []byte) (types.Message, error)

// Dispatcher 子消息分类器
type Dispatcher struct {
	handlers map[string]handlerFunc
	now      func() time.Time
}

// New 创建分类器
func New() *Dispatcher {
	d := &Dispatcher{now: time.Now}
	d.handlers = map[string]handlerFunc{
		protocol.MethodChat:        d.chat,
		protocol.MethodEmojiChat:   d.emojiChat,
		protocol.MethodGift:        d.gift,
		protocol.MethodLike:        d.like,
		protocol.MethodMember:      d.member,
		protocol.MethodSocial:      d.social,
		protocol.MethodRoomUserSeq: d.roomUserSeq,
		protocol.MethodFansclub:    d.fansclub,
		protocol.MethodControl:     d.control,
	}
	return d
}

// Dispatch 分类一条子消息。ok 为 false 表示未知类型，应静默忽略。
func (d *Dispatcher) Dispatch(roomID string, msg protocol.Message) (out types.Message, ok bool, err error) {
	if msg.Method == "" {
		return types.Message{}, false, ErrMissingMethod
	}
	h, known := d.handlers[msg.Method]
	if !known {
		return types.Message{}, false, nil
	}
	out, err = h(roomID, msg.Payload)
	if err != nil {
		return types.Message{}, false, fmt.Errorf("%s: %w", msg.Method, err)
	}
	return out, true, nil
}

func (d *Dispatcher) base(roomID string, category types.Category) types.Message {
	return types.Message{
		ID:        utils.GenerateMessageID(),
		Type:      category,
		RoomID:    roomID,
		Timestamp: types.Timestamp(d.now()),
	}
}

// withUser 填充用户字段，用户 id 缺失时返回错误
func (d *Dispatcher) withUser(msg types.Message, u *protocol.User) (types.Message, error) {
	id := userID(u)
	if id == "" {
		return msg, ErrMissingUser
	}
	msg.UserID = id
	msg.UserName = u.NickName
	msg.UserAvatar = avatarURL(u)
	return msg, nil
}

func (d *Dispatcher) chat(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalChatMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg, err := d.withUser(d.base(roomID, types.CategoryChat), m.User)
	if err != nil {
		return types.Message{}, err
	}
	msg.Content = m.Content
	return msg, nil
}

// emojiChat 表情包按聊天处理，内容取默认文案
func (d *Dispatcher) emojiChat(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalEmojiChatMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg, err := d.withUser(d.base(roomID, types.CategoryChat), m.User)
	if err != nil {
		return types.Message{}, err
	}
	msg.Content = m.DefaultContent
	return msg, nil
}

func (d *Dispatcher) gift(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalGiftMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg, err := d.withUser(d.base(roomID, types.CategoryGift), m.User)
	if err != nil {
		return types.Message{}, err
	}
	if m.Gift != nil {
		msg.GiftName = m.Gift.Name
	}
	msg.GiftCount = m.ComboCount
	if msg.GiftCount == 0 {
		msg.GiftCount = m.RepeatCount
	}
	return msg, nil
}

func (d *Dispatcher) like(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalLikeMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg, err := d.withUser(d.base(roomID, types.CategoryLike), m.User)
	if err != nil {
		return types.Message{}, err
	}
	msg.LikeCount = m.Count
	msg.LikeTotal = m.Total
	return msg, nil
}

func (d *Dispatcher) member(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalMemberMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg, err := d.withUser(d.base(roomID, types.CategoryJoin), m.User)
	if err != nil {
		return types.Message{}, err
	}
	msg.Gender = gender(m.User.Gender)
	return msg, nil
}

func (d *Dispatcher) social(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalSocialMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	return d.withUser(d.base(roomID, types.CategoryFollow), m.User)
}

func (d *Dispatcher) roomUserSeq(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalRoomUserSeqMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg := d.base(roomID, types.CategoryStats)
	msg.CurrentViewers = m.Total
	msg.TotalViewers = m.TotalPvForAnchor
	return msg, nil
}

func (d *Dispatcher) fansclub(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalFansclubMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg := d.base(roomID, types.CategoryFansclub)
	msg.Content = m.Content
	// 粉丝团消息的用户信息不是必需的
	if id := userID(m.User); id != "" {
		msg.UserID = id
		msg.UserName = m.User.NickName
	}
	return msg, nil
}

func (d *Dispatcher) control(roomID string, payload []byte) (types.Message, error) {
	m, err := protocol.UnmarshalControlMessage(payload)
	if err != nil {
		return types.Message{}, err
	}
	msg := d.base(roomID, types.CategoryControl)
	msg.StatusCode = m.Status
	if m.Status == protocol.ControlStatusEnded {
		msg.Status = types.ControlEnded
	}
	return msg, nil
}

func userID(u *protocol.User) string {
	if u == nil {
		return ""
	}
	if u.IDStr != "" {
		return u.IDStr
	}
	if u.ID != 0 {
		return strconv.FormatUint(u.ID, 10)
	}
	return ""
}

func avatarURL(u *protocol.User) string {
	if u == nil || u.AvatarThumb == nil || len(u.AvatarThumb.URLList) == 0 {
		return ""
	}
	return u.AvatarThumb.URLList[0]
}

func gender(g uint32) string {
	switch g {
	case 0:
		return "female"
	case 1:
		return "male"
	default:
		return "unknown"
	}
}
