package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/planillas/models"
	"golang.org/x/net/html"
)

// Prober checks that the payment-form site answers without going through
// the shared browser session, so health checks never wait in the queue.
type Prober struct {
	client         *http.Client
	acceptLanguage string
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// NewProber creates a Prober with a Chrome-like TLS fingerprint. The site
// sits behind a WAF that rejects Go's default ClientHello.
func NewProber(timeout time.Duration, acceptLanguage string) *Prober {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("probe: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	return &Prober{
		acceptLanguage: acceptLanguage,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// Probe fetches url and reports reachability. It never returns an error;
// failures are described in the result.
func (p *Prober) Probe(ctx context.Context, url string) models.ProbeStats {
	start := time.Now()
	var stats models.ProbeStats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		stats.Error = err.Error()
		stats.LatencyMs = time.Since(start).Milliseconds()
		return stats
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "identity")
	if p.acceptLanguage != "" {
		req.Header.Set("Accept-Language", p.acceptLanguage)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		stats.Error = err.Error()
		stats.LatencyMs = time.Since(start).Milliseconds()
		return stats
	}
	defer resp.Body.Close()

	// The title is in the head; 1 MB is plenty.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	stats.StatusCode = resp.StatusCode
	stats.Reachable = resp.StatusCode < 500
	if err != nil {
		stats.Error = fmt.Sprintf("read body: %v", err)
	} else if isHTMLContentType(resp.Header.Get("Content-Type")) {
		stats.Title = extractTitle(string(body))
	}
	if resp.StatusCode >= 400 && stats.Error == "" {
		stats.Error = resp.Status
	}
	stats.LatencyMs = time.Since(start).Milliseconds()
	return stats
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// extractTitle uses the Go HTML tokenizer to find the first <title> element.
func extractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}
