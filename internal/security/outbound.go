// Package security は外部取得とコンテンツ表示に関する安全対策を提供する。
package security

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrInvalidURL はURLの形式またはスキームが不正な場合に返される。
	ErrInvalidURL = errors.New("invalid url")
	// ErrBlockedDestination は内部ネットワーク宛てのURLに返される。
	ErrBlockedDestination = errors.New("blocked destination")
	// ErrResponseTooLarge はレスポンスが上限サイズを超えた場合に返される。
	ErrResponseTooLarge = errors.New("response too large")
)

var allowedSchemes = []string{"http", "https"}

// blockedNetworks は事前検証で拒否するアドレス範囲。
// 接続時の検証はsafeurlのDialerが行う。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータ (169.254.169.254) を含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR: %s: %v", cidr, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// OutboundGuard はアダプタ・ソース登録・再スコアリングが使う外部HTTPクライアントを生成する。
type OutboundGuard struct {
	userAgent string
}

// NewOutboundGuard はOutboundGuardを生成する。userAgentは全リクエストに付与される。
func NewOutboundGuard(userAgent string) *OutboundGuard {
	return &OutboundGuard{userAgent: userAgent}
}

// NewClient はプライベートIP・ループバック・メタデータIPへの接続を拒否するHTTPクライアントを返す。
// レスポンスボディはmaxResponseSizeバイトを超えるとErrResponseTooLargeで読み取りが失敗する。
func (g *OutboundGuard) NewClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	client := safeurl.Client(cfg).Client
	client.Transport = &limitedTransport{
		base:      client.Transport,
		maxBytes:  maxResponseSize,
		userAgent: g.userAgent,
	}
	return client
}

// ValidateURL はDNS解決を行わずにURLを静的に検証する。
// ソース登録時、取得前のチェックとして使う。
func (g *OutboundGuard) ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("%w: %s", ErrBlockedDestination, ip)
			}
		}
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("%w: %s", ErrBlockedDestination, host)
	}
	return nil
}

// limitedTransport はUser-Agentを補い、レスポンスボディのサイズを制限する。
type limitedTransport struct {
	base      http.RoundTripper
	maxBytes  int64
	userAgent string
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.maxBytes > 0 {
		resp.Body = &limitedBody{rc: resp.Body, remaining: t.maxBytes}
	}
	return resp, nil
}

type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// 上限ちょうどで終わるボディを誤検出しないよう、1バイト先読みして判定する
		var one [1]byte
		n, err := b.rc.Read(one[:])
		if n > 0 {
			return 0, ErrResponseTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
