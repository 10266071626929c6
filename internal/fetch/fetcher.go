// Package fetch retrieves remote images with a timeout, a redirect cap and
// a hard size ceiling, classifying failures before any bytes reach the
// decoder.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/imagerelay/imagerelay/internal/util"
)

const (
	connectTimeout = 10 * time.Second
	maxRedirects   = 5
	userAgent      = "imagerelay/1.0 (+https://github.com/imagerelay/imagerelay)"
)

var (
	// ErrBlocked marks hosts rejected by the allow/block lists.
	ErrBlocked = errors.New("domain not allowed")
	// ErrNotAnImage marks responses whose content type is not image/*.
	ErrNotAnImage = errors.New("fetched content is not an image")
	// ErrTooLarge marks responses exceeding the configured size ceiling.
	ErrTooLarge = errors.New("remote file exceeds the size limit")
	// ErrTimeout marks fetches that exceeded the configured timeout.
	ErrTimeout = errors.New("timed out fetching remote file")
	// ErrConnection marks DNS failures and refused connections.
	ErrConnection = errors.New("could not connect to remote host")
)

// StatusError reports a non-2xx response from the origin.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.Code)
}

// FetchedImage owns the retrieved payload. It is created here and consumed
// exclusively by the transform pipeline.
type FetchedImage struct {
	Data          []byte
	ContentType   string
	ContentLength int64
}

// Fetcher performs guarded GET requests. Safe for concurrent use.
type Fetcher struct {
	client         *http.Client
	timeout        time.Duration
	maxBytes       int64
	allowedDomains []string
	blockedDomains []string
}

// New builds a Fetcher. allowPrivate disables the private-IP dial guard,
// intended for development and tests only.
func New(timeout time.Duration, maxBytes int64, allowed, blocked []string, allowPrivate bool) *Fetcher {
	dialer := &net.Dialer{Timeout: connectTimeout}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if allowPrivate {
				return dialer.DialContext(ctx, network, addr)
			}
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.LookupIP(host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if isPrivateIP(ip) {
					return nil, fmt.Errorf("connection to private IP address is not allowed: %s", ip)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client:         client,
		timeout:        timeout,
		maxBytes:       maxBytes,
		allowedDomains: allowed,
		blockedDomains: blocked,
	}
}

// Fetch GETs the already-sanitized URL. The domain lists are checked before
// any network I/O; the size ceiling is enforced against Content-Length when
// present and against the actual byte count regardless, aborting the read
// the moment the ceiling is crossed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchedImage, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %v", err)
	}
	if err := f.checkDomain(parsed.Hostname()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: got %s", ErrNotAnImage, contentType)
	}

	// Never trust an absent header, but reject early when one is present.
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, resp.ContentLength, f.maxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: body exceeded %d bytes", ErrTooLarge, f.maxBytes)
	}

	if contentType == "" {
		contentType = util.DetectContentType(body)
		if !util.IsImageMIME(contentType) {
			return nil, fmt.Errorf("%w: detected %s", ErrNotAnImage, contentType)
		}
	}

	return &FetchedImage{
		Data:          body,
		ContentType:   contentType,
		ContentLength: int64(len(body)),
	}, nil
}

func (f *Fetcher) checkDomain(host string) error {
	host = strings.ToLower(host)
	for _, blocked := range f.blockedDomains {
		if hostMatches(host, blocked) {
			return fmt.Errorf("%w: %s is blocked", ErrBlocked, host)
		}
	}
	if len(f.allowedDomains) == 0 {
		return nil
	}
	for _, allowed := range f.allowedDomains {
		if hostMatches(host, allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not on the allow list", ErrBlocked, host)
}

// hostMatches reports whether host equals domain or is a subdomain of it.
func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// isPrivateIP blocks loopback, RFC 1918/4193 and link-local targets so a
// crafted source URL cannot reach internal services.
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
