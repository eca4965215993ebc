package protocol

// 推送帧的 payload_type
const (
	PayloadTypeMessage   = "msg"
	PayloadTypeAck       = "ack"
	PayloadTypeHeartbeat = "hb"
)

// PushFrame 最外层的推送帧
type PushFrame struct {
	SeqID           uint64
	LogID           uint64
	Service         uint64
	Method          uint64
	Headers         map[string]string
	PayloadEncoding string
	PayloadType     string
	Payload         []byte
}

// UnmarshalPushFrame 解析推送帧
func UnmarshalPushFrame(b []byte) (*PushFrame, error) {
	pf := &PushFrame{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			pf.SeqID = f.uint()
		case 2:
			pf.LogID = f.uint()
		case 3:
			pf.Service = f.uint()
		case 4:
			pf.Method = f.uint()
		case 5:
			var key, value string
			if err := walk(f.data(), func(h field) error {
				switch h.num {
				case 1:
					key = h.str()
				case 2:
					value = h.str()
				}
				return nil
			}); err != nil {
				return err
			}
			if pf.Headers == nil {
				pf.Headers = make(map[string]string)
			}
			pf.Headers[key] = value
		case 6:
			pf.PayloadEncoding = f.str()
		case 7:
			pf.PayloadType = f.str()
		case 8:
			pf.Payload = f.data()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pf, nil
}

// Marshal 编码推送帧
func (pf *PushFrame) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, pf.SeqID)
	b = appendVarint(b, 2, pf.LogID)
	b = appendVarint(b, 3, pf.Service)
	b = appendVarint(b, 4, pf.Method)
	for k, v := range pf.Headers {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendString(entry, 2, v)
		b = appendBytes(b, 5, entry)
	}
	b = appendString(b, 6, pf.PayloadEncoding)
	b = appendString(b, 7, pf.PayloadType)
	b = appendBytes(b, 8, pf.Payload)
	return b
}

// NewHeartbeat 心跳帧
func NewHeartbeat() []byte {
	return (&PushFrame{PayloadType: PayloadTypeHeartbeat}).Marshal()
}

// NewAck 对指定 log_id 的确认帧，payload 为响应中的 internal_ext
func NewAck(logID uint64, internalExt string) []byte {
	return (&PushFrame{
		LogID:       logID,
		PayloadType: PayloadTypeAck,
		Payload:     []byte(internalExt),
	}).Marshal()
}

// Response 解压后的帧内容
type Response struct {
	Messages          []Message
	Cursor            string
	FetchInterval     uint64
	Now               uint64
	InternalExt       string
	HeartbeatDuration uint64
	NeedAck           bool
}

// Message 一条子消息，Method 决定 Payload 的类型
type Message struct {
	Method  string
	Payload []byte
	MsgID   int64
	MsgType int32
}

// UnmarshalResponse 解析帧内容
func UnmarshalResponse(b []byte) (*Response, error) {
	resp := &Response{}
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			msg, err := unmarshalMessage(f.data())
			if err != nil {
				return err
			}
			resp.Messages = append(resp.Messages, msg)
		case 2:
			resp.Cursor = f.str()
		case 3:
			resp.FetchInterval = f.uint()
		case 4:
			resp.Now = f.uint()
		case 5:
			resp.InternalExt = f.str()
		case 8:
			resp.HeartbeatDuration = f.uint()
		case 9:
			resp.NeedAck = f.bool()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func unmarshalMessage(b []byte) (Message, error) {
	var msg Message
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			msg.Method = f.str()
		case 2:
			msg.Payload = f.data()
		case 3:
			msg.MsgID = int64(f.uint())
		case 4:
			msg.MsgType = int32(f.uint())
		}
		return nil
	})
	return msg, err
}

// Marshal 编码帧内容
func (r *Response) Marshal() []byte {
	var b []byte
	for _, m := range r.Messages {
		b = appendBytes(b, 1, m.Marshal())
	}
	b = appendString(b, 2, r.Cursor)
	b = appendVarint(b, 3, r.FetchInterval)
	b = appendVarint(b, 4, r.Now)
	b = appendString(b, 5, r.InternalExt)
	b = appendVarint(b, 8, r.HeartbeatDuration)
	b = appendBool(b, 9, r.NeedAck)
	return b
}

// Marshal 编码子消息
func (m Message) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Method)
	b = appendBytes(b, 2, m.Payload)
	b = appendVarint(b, 3, uint64(m.MsgID))
	b = appendVarint(b, 4, uint64(m.MsgType))
	return b
}
