package douyin

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// signParams 参与签名的推送参数，顺序固定
var signParams = []string{
	"live_id", "aid", "version_code", "webcast_sdk_version",
	"room_id", "sub_room_id", "sub_channel_id", "did_rule",
	"user_unique_id", "device_platform", "device_type", "ac",
	"identity",
}

// SignatureStub 计算推送地址的签名摘要：按固定顺序拼出 k=v 再取 md5
func SignatureStub(pushURL string) (string, error) {
	u, err := url.Parse(pushURL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	values := make(map[string]string)
	for _, kv := range strings.Split(u.RawQuery, "&") {
		k, v, _ := strings.Cut(kv, "=")
		values[k] = v
	}

	parts := make([]string, 0, len(signParams))
	for _, k := range signParams {
		parts = append(parts, k+"="+values[k])
	}
	sum := md5.Sum([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:]), nil
}

// Signer 把签名摘要换成推送地址上的 signature 参数
type Signer interface {
	Sign(ctx context.Context, stub string) (string, error)
}

// NoopSigner 不签名，连接时不带 signature 参数
type NoopSigner struct{}

func (NoopSigner) Sign(context.Context, string) (string, error) {
	return "", nil
}

// HTTPSigner 调用外部签名服务
type HTTPSigner struct {
	URL    string
	Client *http.Client
}

// Sign POST {"X-MS-STUB": stub}，从响应里取 signature 或 X-Bogus
func (s *HTTPSigner) Sign(ctx context.Context, stub string) (string, error) {
	body, err := json.Marshal(map[string]string{"X-MS-STUB": stub})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read sign response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sign service returned %d", resp.StatusCode)
	}

	result := gjson.GetManyBytes(data, "signature", "X-Bogus")
	for _, r := range result {
		if r.String() != "" {
			return r.String(), nil
		}
	}
	return "", fmt.Errorf("sign service returned no signature")
}
