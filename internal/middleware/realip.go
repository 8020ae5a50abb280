package middleware

import (
	"net"
	"net/http"
	"net/netip"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewTrustedRealIPMiddleware は直前の接続元が信頼済みプロキシの場合のみ、
// chiのRealIPでTrue-Client-IP・X-Real-IP・X-Forwarded-For からクライアントIPを復元するミドルウェアを返す。
// それ以外の接続元が送ったこれらのヘッダーは無視し、RemoteAddrをそのまま使う。
// 信頼済みプロキシはクライアントが送った同名ヘッダーを上書きしなければならない。
func NewTrustedRealIPMiddleware(trusted []netip.Prefix) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		realIP := chimw.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fromTrustedProxy(r.RemoteAddr, trusted) {
				realIP.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// fromTrustedProxy はRemoteAddrが信頼済みネットワークに含まれるかを返す。
func fromTrustedProxy(remoteAddr string, trusted []netip.Prefix) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
