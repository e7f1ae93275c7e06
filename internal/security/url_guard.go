package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ImageURLGuard は投稿画像・アバターとして指定された外部URLを検証する。
type ImageURLGuard interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	// スキームがhttp/https以外、ホストが空、プライベートIP・ループバック等の場合はエラーを返す。
	ValidateURL(rawURL string) error

	// CheckImage はURLを静的に検証した後、SSRF防止付きクライアントでHEADリクエストを送り、
	// 画像であることとサイズが上限以下であることを確認する。
	CheckImage(ctx context.Context, rawURL string) error
}

// allowedSchemes は外部URLで許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は静的検証でブロックされるネットワーク範囲。
// safeurlはDialerレベルでDNS解決後のIPも検証するため、DNS再バインディングにも対応する。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// urlGuard はImageURLGuardの実装。
type urlGuard struct {
	client   *http.Client
	maxBytes int64
}

// NewImageURLGuard はImageURLGuardを生成する。
// maxBytesはContent-Lengthが示す画像サイズの上限。
func NewImageURLGuard(timeout time.Duration, maxBytes int64) *urlGuard {
	return &urlGuard{
		client:   NewSafeClient(timeout),
		maxBytes: maxBytes,
	}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続はsafeurlがブロックする。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLの安全性を静的に検証する。
func (g *urlGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// CheckImage はURLが到達可能な画像であることを確認する。
func (g *urlGuard) CheckImage(ctx context.Context, rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach image URL: %w", err)
	}
	defer resp.Body.Close()

	return checkImageResponse(resp, g.maxBytes)
}

// checkImageResponse はHEADレスポンスのステータス・Content-Type・Content-Lengthを検証する。
// Content-Lengthが不明(-1)の場合はサイズを検証しない。
func checkImageResponse(resp *http.Response, maxBytes int64) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("not an image: %q", contentType)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return fmt.Errorf("image too large: %d bytes", resp.ContentLength)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
