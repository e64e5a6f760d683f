package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html"
)

const (
	maxFetchSize     = 5 << 20
	maxPageTextRunes = 4000
	maxRedirects     = 5
)

// ErrBlockedAddress is returned when a link resolves to a loopback, private,
// link-local or unspecified address.
var ErrBlockedAddress = errors.New("blocked address")

// LinkFetcher pulls the readable text of a linked page.
type LinkFetcher struct {
	client *http.Client
}

// NewLinkFetcher returns a fetcher with a 20s timeout that only connects to
// public addresses, including across redirects.
func NewLinkFetcher() *LinkFetcher {
	return newLinkFetcher(false)
}

func newLinkFetcher(allowPrivate bool) *LinkFetcher {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = publicOnly
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &LinkFetcher{client: &http.Client{
		Timeout:       20 * time.Second,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}}
}

// publicOnly runs after name resolution, so it sees the address actually
// dialed for the first request and every redirect.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || addr.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	return nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
	}
	return nil
}

// Fetch downloads rawURL and returns its title, meta description and
// visible text.
func (f *LinkFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid url: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "eventbot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	return pageText(doc), nil
}

func pageText(doc *html.Node) string {
	var title, description string
	var body strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "svg", "head":
				if n.Data == "head" {
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						walkHead(c, &title, &description)
					}
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if body.Len() > 0 {
					body.WriteByte(' ')
				}
				body.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	parts := make([]string, 0, 3)
	if title != "" {
		parts = append(parts, title)
	}
	if description != "" {
		parts = append(parts, description)
	}
	if text := strings.TrimSpace(body.String()); text != "" {
		parts = append(parts, text)
	}

	out := strings.Join(parts, "\n")
	if r := []rune(out); len(r) > maxPageTextRunes {
		out = string(r[:maxPageTextRunes])
	}
	return out
}

func walkHead(n *html.Node, title, description *string) {
	if n.Type != html.ElementNode {
		return
	}
	switch n.Data {
	case "title":
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			*title = strings.TrimSpace(n.FirstChild.Data)
		}
	case "meta":
		var name, content string
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "name", "property":
				name = strings.ToLower(a.Val)
			case "content":
				content = a.Val
			}
		}
		if (name == "description" || name == "og:description") && *description == "" {
			*description = strings.TrimSpace(content)
		}
	}
}
