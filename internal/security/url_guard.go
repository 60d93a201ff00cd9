// Package security はユーザー入力のURL検証とテキストのサニタイズを提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL は公開インターネット上のhttp(s) URLではないことを示す。
var ErrUnsafeURL = errors.New("unsafe url")

// blockedSuffixes は内部ネットワークを指すホスト名の接尾辞。
var blockedSuffixes = []string{".localhost", ".local", ".internal"}

// URLGuard はプロジェクトのリポジトリURL・画像URLなどユーザーが入力したURLを検証し、
// 外部呼び出し用にプライベートアドレスへ接続しないHTTPクライアントを提供する。
type URLGuard struct {
	schemes []string
	ports   []int
}

// NewURLGuard はhttp/httpsの80・443番ポートのみを許可するURLGuardを生成する。
func NewURLGuard() *URLGuard {
	return &URLGuard{
		schemes: []string{"http", "https"},
		ports:   []int{80, 443},
	}
}

// Validate はrawURLが公開ホストを指すhttp(s) URLかをDNS解決なしで検証する。
// 解決後のアドレス検証はNewSafeClientのクライアントが接続時に行う。
func (g *URLGuard) Validate(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrUnsafeURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if !g.allowedScheme(u.Scheme) {
		return fmt.Errorf("%w: scheme %q not allowed", ErrUnsafeURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrUnsafeURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !isPublicIP(ip) {
			return fmt.Errorf("%w: non-public address %s", ErrUnsafeURL, ip)
		}
		return nil
	}

	if host == "localhost" {
		return fmt.Errorf("%w: host %s", ErrUnsafeURL, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %s", ErrUnsafeURL, host)
		}
	}
	return nil
}

// NewSafeClient はDNS解決後のアドレスも検証するHTTPクライアントを生成する。
func (g *URLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(g.schemes...).
		SetAllowedPorts(g.ports...).
		Build()
	return safeurl.Client(config).Client
}

func (g *URLGuard) allowedScheme(scheme string) bool {
	for _, s := range g.schemes {
		if strings.EqualFold(s, scheme) {
			return true
		}
	}
	return false
}

func isPublicIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(), ip.IsPrivate(), ip.IsUnspecified(),
		ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(), ip.IsMulticast():
		return false
	}
	// 0.0.0.0/8
	if v4 := ip.To4(); v4 != nil && v4[0] == 0 {
		return false
	}
	return true
}
