package protocol

// 子消息的 method 名
const (
	MethodChat        = "WebcastChatMessage"
	MethodEmojiChat   = "WebcastEmojiChatMessage"
	MethodGift        = "WebcastGiftMessage"
	MethodLike        = "WebcastLikeMessage"
	MethodMember      = "WebcastMemberMessage"
	MethodSocial      = "WebcastSocialMessage"
	MethodRoomUserSeq = "WebcastRoomUserSeqMessage"
	MethodFansclub    = "WebcastFansclubMessage"
	MethodControl     = "WebcastControlMessage"
)

// ControlStatusEnded 直播已结束
const ControlStatusEnded = 3

// Image 图片，只取地址列表
type Image struct {
	URLList []string
}

func unmarshalImage(b []byte) (*Image, error) {
	img := &Image{}
	err := walk(b, func(f field) error {
		if f.num == 1 {
			img.URLList = append(img.URLList, f.str())
		}
		return nil
	})
	return img, err
}

func (img *Image) marshal() []byte {
	var b []byte
	for _, u := range img.URLList {
		b = appendString(b, 1, u)
	}
	return b
}

// User 消息里的用户信息
type User struct {
	ID          uint64
	NickName    string
	Gender      uint32
	AvatarThumb *Image
	IDStr       string
}

func unmarshalUser(b []byte) (*User, error) {
	u := &User{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			u.ID = f.uint()
		case 3:
			u.NickName = f.str()
		case 4:
			u.Gender = uint32(f.uint())
		case 9:
			// 头像不是必需字段，解析失败按没有头像处理
			if img, err := unmarshalImage(f.data()); err == nil {
				u.AvatarThumb = img
			}
		case 1028:
			u.IDStr = f.str()
		}
		return nil
	})
	return u, err
}

func (u *User) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, u.ID)
	b = appendString(b, 3, u.NickName)
	b = appendVarint(b, 4, uint64(u.Gender))
	if u.AvatarThumb != nil {
		b = appendBytes(b, 9, u.AvatarThumb.marshal())
	}
	b = appendString(b, 1028, u.IDStr)
	return b
}

func appendUser(b []byte, num int, u *User) []byte {
	if u == nil {
		return b
	}
	// 空用户也要编码出字段，区分“没有用户”和“用户字段为空”
	return appendRaw(b, num, u.marshal())
}

// ChatMessage 聊天
type ChatMessage struct {
	User    *User
	Content string
}

// UnmarshalChatMessage 解析聊天消息
func UnmarshalChatMessage(b []byte) (*ChatMessage, error) {
	m := &ChatMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			m.User, err = unmarshalUser(f.data())
		case 3:
			m.Content = f.str()
		}
		return err
	})
	return m, err
}

// Marshal 编码
func (m *ChatMessage) Marshal() []byte {
	b := appendUser(nil, 2, m.User)
	return appendString(b, 3, m.Content)
}

// EmojiChatMessage 表情包聊天
type EmojiChatMessage struct {
	User           *User
	EmojiID        uint64
	DefaultContent string
}

// UnmarshalEmojiChatMessage 解析表情包聊天消息
func UnmarshalEmojiChatMessage(b []byte) (*EmojiChatMessage, error) {
	m := &EmojiChatMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			m.User, err = unmarshalUser(f.data())
		case 3:
			m.EmojiID = f.uint()
		case 5:
			m.DefaultContent = f.str()
		}
		return err
	})
	return m, err
}

// Marshal 编码
func (m *EmojiChatMessage) Marshal() []byte {
	b := appendUser(nil, 2, m.User)
	b = appendVarint(b, 3, m.EmojiID)
	return appendString(b, 5, m.DefaultContent)
}

// GiftStruct 礼物信息
type GiftStruct struct {
	ID   uint64
	Name string
}

// GiftMessage 礼物
type GiftMessage struct {
	GiftID      uint64
	RepeatCount uint64
	ComboCount  uint64
	User        *User
	Gift        *GiftStruct
}

// UnmarshalGiftMessage 解析礼物消息
func UnmarshalGiftMessage(b []byte) (*GiftMessage, error) {
	m := &GiftMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			m.GiftID = f.uint()
		case 5:
			m.RepeatCount = f.uint()
		case 6:
			m.ComboCount = f.uint()
		case 7:
			m.User, err = unmarshalUser(f.data())
		case 15:
			// 礼物详情解析失败时礼物名留空，消息照常保留
			g := &GiftStruct{}
			if walk(f.data(), func(gf field) error {
				switch gf.num {
				case 5:
					g.ID = gf.uint()
				case 16:
					g.Name = gf.str()
				}
				return nil
			}) == nil {
				m.Gift = g
			}
		}
		return err
	})
	return m, err
}

// Marshal 编码
func (m *GiftMessage) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 2, m.GiftID)
	b = appendVarint(b, 5, m.RepeatCount)
	b = appendVarint(b, 6, m.ComboCount)
	b = appendUser(b, 7, m.User)
	if m.Gift != nil {
		var g []byte
		g = appendVarint(g, 5, m.Gift.ID)
		g = appendString(g, 16, m.Gift.Name)
		b = appendRaw(b, 15, g)
	}
	return b
}

// LikeMessage 点赞
type LikeMessage struct {
	Count uint64
	Total uint64
	User  *User
}

// UnmarshalLikeMessage 解析点赞消息
func UnmarshalLikeMessage(b []byte) (*LikeMessage, error) {
	m := &LikeMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			m.Count = f.uint()
		case 3:
			m.Total = f.uint()
		case 5:
			m.User, err = unmarshalUser(f.data())
		}
		return err
	})
	return m, err
}

// Marshal 编码
func (m *LikeMessage) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 2, m.Count)
	b = appendVarint(b, 3, m.Total)
	return appendUser(b, 5, m.User)
}

// MemberMessage 进入直播间
type MemberMessage struct {
	User        *User
	MemberCount uint64
}

// UnmarshalMemberMessage 解析进场消息
func UnmarshalMemberMessage(b []byte) (*MemberMessage, error) {
	m := &MemberMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			m.User, err = unmarshalUser(f.data())
		case 3:
			m.MemberCount = f.uint()
		}
		return err
	})
	return m, err
}

// Marshal 编码
func (m *MemberMessage) Marshal() []byte {
	b := appendUser(nil, 2, m.User)
	return appendVarint(b, 3, m.MemberCount)
}

// SocialMessage 关注
type SocialMessage struct {
	User        *User
	Action      uint64
	FollowCount uint64
}

// UnmarshalSocialMessage 解析关注消息
func UnmarshalSocialMessage(b []byte) (*SocialMessage, error) {
	m := &SocialMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			m.User, err = unmarshalUser(f.data())
		case 4:
			m.Action = f.uint()
		case 6:
			m.FollowCount = f.uint()
		}
		return err
	})
	return m, err
}

// Marshal 编码
func (m *SocialMessage) Marshal() []byte {
	b := appendUser(nil, 2, m.User)
	b = appendVarint(b, 4, m.Action)
	return appendVarint(b, 6, m.FollowCount)
}

// RoomUserSeqMessage 直播间在线统计
type RoomUserSeqMessage struct {
	Total            int64
	TotalUser        int64
	TotalPvForAnchor string
}

// UnmarshalRoomUserSeqMessage 解析统计消息
func UnmarshalRoomUserSeqMessage(b []byte) (*RoomUserSeqMessage, error) {
	m := &RoomUserSeqMessage{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 3:
			m.Total = int64(f.uint())
		case 7:
			m.TotalUser = int64(f.uint())
		case 11:
			m.TotalPvForAnchor = f.str()
		}
		return nil
	})
	return m, err
}

// Marshal 编码
func (m *RoomUserSeqMessage) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 3, uint64(m.Total))
	b = appendVarint(b, 7, uint64(m.TotalUser))
	return appendString(b, 11, m.TotalPvForAnchor)
}

// FansclubMessage 粉丝团
type FansclubMessage struct {
	Type    int32
	Content string
	User    *User
}

// UnmarshalFansclubMessage 解析粉丝团消息
func UnmarshalFansclubMessage(b []byte) (*FansclubMessage, error) {
	m := &FansclubMessage{}
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 2:
			m.Type = int32(f.uint())
		case 3:
			m.Content = f.str()
		case 4:
			m.User, err = unmarshalUser(f.data())
		}
		return err
	})
	return m, err
}

// Marshal 编码
func (m *FansclubMessage) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 2, uint64(m.Type))
	b = appendString(b, 3, m.Content)
	return appendUser(b, 4, m.User)
}

// ControlMessage 直播间状态变化
type ControlMessage struct {
	Status int32
}

// UnmarshalControlMessage 解析状态消息
func UnmarshalControlMessage(b []byte) (*ControlMessage, error) {
	m := &ControlMessage{}
	err := walk(b, func(f field) error {
		if f.num == 2 {
			m.Status = int32(f.uint())
		}
		return nil
	})
	return m, err
}

// Marshal 编码
func (m *ControlMessage) Marshal() []byte {
	return appendVarint(nil, 2, uint64(m.Status))
}
