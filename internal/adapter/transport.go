// Package adapter holds helpers shared by the source adapter
// implementations.
package adapter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// Transport builds an HTTP transport routed through the resolved proxy. A
// nil proxy yields a direct transport with the same pooling settings.
func Transport(p *focus.Proxy) (*http.Transport, error) {
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if p == nil {
		return base, nil
	}

	switch p.Protocol {
	case focus.ProxyHTTP, focus.ProxyHTTPS:
		proxyURL, err := url.Parse(p.URL())
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		base.Proxy = http.ProxyURL(proxyURL)
		return base, nil
	case focus.ProxySOCKS5:
		dialer, err := xproxy.SOCKS5("tcp", p.Address, nil, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
		return base, nil
	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", p.Protocol)
	}
}
