package douyin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BetaCatPro/livelink/internal/conn"
	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	DefaultLiveURL   = "https://live.douyin.com/"
	DefaultPushURL   = "wss://webcast100-ws-web-lq.douyin.com/webcast/im/push/v2/"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36 Edg/140.0.0.0"

	acNonce      = "0123407cc00a9e438deb4"
	deviceID     = "7319483754668557238"
	msTokenSize  = 182
	maxPageBytes = 8 << 20
)

const (
	roomStatusLive  = 0
	roomStatusEnded = 2
)

var roomIDPattern = regexp.MustCompile(`roomId\\":\\"(\d+)\\"`)

// Options 抖音接入选项，零值使用默认地址
type Options struct {
	LiveURL     string
	PushURL     string
	UserAgent   string
	Signer      Signer
	Client      *http.Client
	Dialer      *websocket.Dialer
	Logger      *slog.Logger
	ErrorCenter *errors.ErrorCenter
}

// Platform 抖音网页版直播间接入
type Platform struct {
	config      types.Config
	liveURL     string
	pushURL     string
	userAgent   string
	signer      Signer
	client      *http.Client
	dialer      *websocket.Dialer
	logger      *slog.Logger
	errorCenter *errors.ErrorCenter

	mu      sync.Mutex
	ttwid   string
	roomIDs map[string]string // live_id -> room_id
}

// New 创建抖音接入
func New(config types.Config, opts Options) *Platform {
	p := &Platform{
		config:      config,
		liveURL:     opts.LiveURL,
		pushURL:     opts.PushURL,
		userAgent:   opts.UserAgent,
		signer:      opts.Signer,
		client:      opts.Client,
		dialer:      opts.Dialer,
		logger:      opts.Logger,
		errorCenter: opts.ErrorCenter,
		roomIDs:     make(map[string]string),
	}
	if p.liveURL == "" {
		p.liveURL = DefaultLiveURL
	}
	if !strings.HasSuffix(p.liveURL, "/") {
		p.liveURL += "/"
	}
	if p.pushURL == "" {
		p.pushURL = DefaultPushURL
	}
	if p.userAgent == "" {
		p.userAgent = DefaultUserAgent
	}
	if p.signer == nil {
		p.signer = NoopSigner{}
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 10 * time.Second}
	}
	if p.dialer == nil {
		p.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("platform", "douyin")
	if p.errorCenter == nil {
		p.errorCenter = errors.NewErrorCenter()
	}
	return p
}

func (p *Platform) Name() string { return "douyin" }

// GenerateMsToken 生成 cookie 中的 msToken
func GenerateMsToken() string {
	return utils.GenerateRandomID(msTokenSize)
}

// retry 按配置的次数和间隔重试一个 HTTP 步骤
func retry[T any](ctx context.Context, p *Platform, step string, fn func() (T, error)) (T, error) {
	tries := p.config.HandshakeRetries
	if tries < 1 {
		tries = 1
	}
	return backoff.Retry(ctx, backoff.Operation[T](fn),
		backoff.WithBackOff(backoff.NewConstantBackOff(p.config.HandshakeRetryDelay)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("request failed, retrying", "step", step, "error", err, "retry_in", next)
		}),
	)
}

// RoomStatus 查询直播间开播状态：0 直播中，2 已结束，其它视为异常
func (p *Platform) RoomStatus(ctx context.Context, liveID string) (types.RoomStatus, error) {
	roomID, err := p.resolveRoomID(ctx, liveID)
	if err != nil {
		return types.RoomStatus{}, err
	}
	ttwid, err := p.fetchTTWID(ctx)
	if err != nil {
		return types.RoomStatus{}, err
	}

	status, err := retry(ctx, p, "room_status", func() (types.RoomStatus, error) {
		return p.enterRoom(ctx, liveID, roomID, ttwid)
	})
	if err != nil {
		return types.RoomStatus{}, err
	}
	switch status.StatusCode {
	case roomStatusLive:
	case roomStatusEnded:
		p.logger.Info("live ended", "room_id", liveID, "anchor", status.AnchorName)
	default:
		p.logger.Warn("abnormal room status", "room_id", liveID, "room_status", status.StatusCode)
	}
	return status, nil
}

func (p *Platform) enterRoom(ctx context.Context, liveID, roomID, ttwid string) (types.RoomStatus, error) {
	query := strings.Join([]string{
		"aid=6383", "app_name=douyin_web", "live_id=1", "device_platform=web",
		"language=zh-CN", "enter_from=page_refresh", "cookie_enabled=true",
		"screen_width=1920", "screen_height=1080", "browser_language=zh-CN",
		"browser_platform=Win32", "browser_name=Edge", "browser_version=140.0.0.0",
		"web_rid=" + liveID, "room_id_str=" + roomID, "enter_source=",
		"is_need_double_stream=false", "msToken=" + GenerateMsToken(),
	}, "&")

	body, err := p.get(ctx, p.liveURL+"webcast/room/web/enter/?"+query, map[string]string{
		"Referer": p.liveURL + liveID,
		"Cookie":  fmt.Sprintf("ttwid=%s;__ac_nonce=%s", ttwid, acNonce),
	})
	if err != nil {
		return types.RoomStatus{}, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() || !data.Get("room_status").Exists() {
		return types.RoomStatus{}, backoff.Permanent(
			fmt.Errorf("%w: enter response has no room_status", errors.ErrRoomNotFound))
	}
	code := int(data.Get("room_status").Int())
	return types.RoomStatus{
		RoomID:     roomID,
		Live:       code == roomStatusLive,
		StatusCode: code,
		AnchorID:   data.Get("user.id_str").String(),
		AnchorName: data.Get("user.nickname").String(),
	}, nil
}

// fetchTTWID 访问直播首页拿 ttwid cookie，成功后缓存
func (p *Platform) fetchTTWID(ctx context.Context) (string, error) {
	p.mu.Lock()
	cached := p.ttwid
	p.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	ttwid, err := retry(ctx, p, "ttwid", func() (string, error) {
		req, err := p.newRequest(ctx, p.liveURL, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))

		if resp.StatusCode == http.StatusTooManyRequests {
			return "", backoff.Permanent(fmt.Errorf("%w: live page returned %d", errors.ErrRateLimited, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("live page returned %d", resp.StatusCode)
		}
		for _, c := range resp.Cookies() {
			if c.Name == "ttwid" && c.Value != "" {
				return c.Value, nil
			}
		}
		return "", fmt.Errorf("ttwid cookie not set")
	})
	if err != nil {
		return "", fmt.Errorf("%w: fetch ttwid: %w", errors.ErrHandshake, err)
	}

	p.mu.Lock()
	p.ttwid = ttwid
	p.mu.Unlock()
	p.logger.Debug("got ttwid")
	return ttwid, nil
}

// resolveRoomID 从直播间页面解析内部 room_id，成功后缓存
func (p *Platform) resolveRoomID(ctx context.Context, liveID string) (string, error) {
	p.mu.Lock()
	cached, ok := p.roomIDs[liveID]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	ttwid, err := p.fetchTTWID(ctx)
	if err != nil {
		return "", err
	}

	roomID, err := retry(ctx, p, "room_id", func() (string, error) {
		body, err := p.get(ctx, p.liveURL+url.PathEscape(liveID), map[string]string{
			"Cookie": fmt.Sprintf("ttwid=%s&msToken=%s; __ac_nonce=%s", ttwid, GenerateMsToken(), acNonce),
		})
		if err != nil {
			return "", err
		}
		m := roomIDPattern.FindSubmatch(body)
		if m == nil {
			return "", fmt.Errorf("%w: roomId not found in page", errors.ErrRoomNotFound)
		}
		return string(m[1]), nil
	})
	if err != nil {
		if !errors.Is(err, errors.ErrRoomNotFound) {
			err = fmt.Errorf("%w: %w", errors.ErrRoomNotFound, err)
		}
		return "", err
	}

	p.mu.Lock()
	p.roomIDs[liveID] = roomID
	p.mu.Unlock()
	p.logger.Info("resolved room id", "room_id", liveID, "internal_room_id", roomID)
	return roomID, nil
}

func (p *Platform) newRequest(ctx context.Context, rawURL string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// get 发一个 GET 请求并读出响应体，非 200 视为失败
func (p *Platform) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := p.newRequest(ctx, rawURL, headers)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		// 被限流时立即放弃，由上层拉长退避
		return nil, backoff.Permanent(fmt.Errorf("%w: GET %s returned %d", errors.ErrRateLimited, req.URL.Path, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned %d", req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

// buildPushURL 拼出推送地址，参数顺序与网页端一致
func (p *Platform) buildPushURL(roomID string) string {
	nowMs := time.Now().UnixMilli()
	params := []string{
		"app_name=douyin_web",
		"version_code=180800",
		"webcast_sdk_version=1.0.14-beta.0",
		"update_version_code=1.0.14-beta.0",
		"compress=gzip",
		"device_platform=web",
		"cookie_enabled=true",
		"screen_width=1536",
		"screen_height=864",
		"browser_language=zh-CN",
		"browser_platform=Win32",
		"browser_name=Mozilla",
		"browser_online=true",
		"tz_name=Asia/Shanghai",
		fmt.Sprintf("cursor=d-1_u-1_fh-0_t-%d_r-1", nowMs),
		fmt.Sprintf("internal_ext=internal_src:dim|wss_push_room_id:%s|wss_push_did:%s|first_req_ms:%d|fetch_time:%d|seq:1|wss_info:0-%d-0-0",
			roomID, deviceID, nowMs, nowMs, nowMs),
		"host=https://live.douyin.com",
		"aid=6383",
		"live_id=1",
		"did_rule=3",
		"endpoint=live_pc",
		"support_wrds=1",
		"user_unique_id=" + deviceID,
		"im_path=/webcast/im/fetch/",
		"identity=audience",
		"need_persist_msg_count=15",
		"insert_task_id=",
		"live_reason=",
		"room_id=" + roomID,
		"heartbeatDuration=0",
	}
	return p.pushURL + "?" + strings.Join(params, "&")
}

// Connect 签名并建立推送连接，返回的连接还未开始读取
func (p *Platform) Connect(ctx context.Context, liveID string) (conn.Transport, error) {
	roomID, err := p.resolveRoomID(ctx, liveID)
	if err != nil {
		return nil, err
	}
	ttwid, err := p.fetchTTWID(ctx)
	if err != nil {
		return nil, err
	}

	pushURL := p.buildPushURL(roomID)
	stub, err := SignatureStub(pushURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrHandshake, err)
	}
	signature, err := p.signer.Sign(ctx, stub)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", errors.ErrHandshake, err)
	}
	if signature != "" {
		pushURL += "&signature=" + url.QueryEscape(signature)
	}

	header := http.Header{}
	header.Set("Cookie", "ttwid="+ttwid)
	header.Set("User-Agent", p.userAgent)

	ws, err := retry(ctx, p, "dial", func() (*websocket.Conn, error) {
		ws, resp, err := p.dialer.DialContext(ctx, pushURL, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
				return nil, backoff.Permanent(fmt.Errorf("%w: dial failed with status %d", errors.ErrRateLimited, resp.StatusCode))
			}
			if resp != nil {
				return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
			}
			return nil, err
		}
		return ws, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrHandshake, err)
	}

	p.logger.Info("push connection established", "room_id", liveID, "internal_room_id", roomID)
	return conn.NewConnection(ws, liveID, p.config, p.errorCenter, p.logger), nil
}
