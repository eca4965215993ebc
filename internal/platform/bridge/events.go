package bridge

import (
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/tidwall/gjson"
)

// 桥接程序输出的事件类型
const (
	EventChat     = "chat"
	EventGift     = "gift"
	EventLike     = "like"
	EventMember   = "member"
	EventFollow   = "follow"
	EventShare    = "share"
	EventRoomUser = "roomUser"
)

var (
	// ErrNotJSON 输出行不是 JSON
	ErrNotJSON = stderrors.New("not a json event")

	// ErrMissingUser 需要用户的事件没有 user 字段
	ErrMissingUser = stderrors.New("event has no user")
)

// IsRateLimit 桥接程序输出里是否带有限流标记
func IsRateLimit(line string) bool {
	return strings.Contains(line, "RATE_LIMIT") || strings.Contains(line, "rate_limit")
}

func str(r gjson.Result, def string) string {
	if !r.Exists() || r.String() == "" {
		return def
	}
	return r.String()
}

func uint64Or(r gjson.Result, def uint64) uint64 {
	if !r.Exists() {
		return def
	}
	return r.Uint()
}

// ParseEvent 把一行 JSON 事件转换成消息。
// 不是合法 JSON 返回 ErrNotJSON，缺少用户返回 ErrMissingUser；未知类型返回 ok=false。
func ParseEvent(roomID string, line []byte, now time.Time) (msg types.Message, ok bool, err error) {
	if !gjson.ValidBytes(line) {
		return types.Message{}, false, ErrNotJSON
	}
	ev := gjson.ParseBytes(line)
	if !ev.IsObject() {
		return types.Message{}, false, nil
	}

	msg = types.Message{
		ID:        utils.GenerateMessageID(),
		RoomID:    roomID,
		Timestamp: types.Timestamp(now),
	}
	// 时间戳为毫秒
	if ts := ev.Get("timestamp"); ts.Exists() {
		msg.Timestamp = ts.Float() / 1000
	}

	switch ev.Get("type").String() {
	case EventChat:
		msg.Type = types.CategoryChat
		msg.Content = ev.Get("text").String()
	case EventGift:
		msg.Type = types.CategoryGift
		msg.GiftName = str(ev.Get("gift_name"), "Unknown")
		msg.GiftCount = uint64Or(ev.Get("count"), 1)
	case EventLike:
		msg.Type = types.CategoryLike
		msg.LikeCount = uint64Or(ev.Get("count"), 1)
		msg.LikeTotal = ev.Get("total").Uint()
	case EventMember:
		msg.Type = types.CategoryJoin
		msg.Gender = "unknown"
	case EventFollow:
		msg.Type = types.CategoryFollow
	case EventShare:
		msg.Type = types.CategoryShare
	case EventRoomUser:
		msg.Type = types.CategoryStats
		viewers := ev.Get("viewerCount").Int()
		msg.CurrentViewers = viewers
		msg.TotalViewers = strconv.FormatInt(viewers, 10)
	default:
		return types.Message{}, false, nil
	}

	// 除统计外都是用户事件
	if msg.Type != types.CategoryStats {
		msg.UserID = ev.Get("user").String()
		if msg.UserID == "" {
			return types.Message{}, false, ErrMissingUser
		}
		msg.UserName = str(ev.Get("nickname"), "Unknown User")
	}
	return msg, true, nil
}
