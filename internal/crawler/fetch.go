package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"knowledge-retrieval-service/internal/logger"

	"github.com/andybalholm/brotli"
	"github.com/chromedp/chromedp"
	"golang.org/x/net/html/charset"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxFetchAttempts = 4
)

// Bot-wall fingerprints: Cloudflare challenge pages, Sucuri, Wordfence and
// CAPTCHA interstitials.
var botWallMarkers = []string{
	"just a moment",
	"checking your browser",
	"cf-ray",
	"cloudflare ray id",
	"sucuri website firewall",
	"wordfence",
	"g-recaptcha",
	"recaptcha/api.js",
}

// IsBotWall reports whether a response looks like a bot-protection
// interstitial rather than real content.
func IsBotWall(statusCode int, body string) bool {
	if statusCode != 403 && statusCode != 503 && statusCode != 429 && statusCode != 200 {
		return false
	}
	lower := strings.ToLower(body)
	for _, marker := range botWallMarkers {
		if strings.Contains(lower, marker) {
			// challenge pages are small; a long 200 page mentioning
			// cloudflare in passing is fine
			if statusCode == 200 && len(body) > 20000 {
				continue
			}
			return true
		}
	}
	return false
}

func browserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Ch-Ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	if parsed, err := url.Parse(req.URL.String()); err == nil {
		req.Header.Set("Referer", fmt.Sprintf("%s://%s/", parsed.Scheme, parsed.Host))
	}
}

// fetchPlain GETs a page with browser headers, handling brotli and charset
// decoding. Retries transient blocks (403/429/503) with exponential backoff
// plus jitter.
func (c *Crawler) fetchPlain(ctx context.Context, pageURL string) (string, int, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(int(1)<<attempt)+rand.Float64()*1.5) * time.Second
			select {
			case <-ctx.Done():
				return "", lastStatus, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return "", 0, err
		}
		browserHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := decodeBody(resp)
		resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode == 403 || resp.StatusCode == 429 || resp.StatusCode == 503 {
			lastErr = fmt.Errorf("blocked with status %d", resp.StatusCode)
			continue
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 400 {
			return body, resp.StatusCode, fmt.Errorf("http %d for %s", resp.StatusCode, pageURL)
		}
		return body, resp.StatusCode, nil
	}
	return "", lastStatus, fmt.Errorf("fetch %s: %w", pageURL, lastErr)
}

// decodeBody decompresses brotli if needed (gzip is transparent) and
// converts the body to UTF-8.
func decodeBody(resp *http.Response) (string, error) {
	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "br") {
		reader = brotli.NewReader(reader)
	}
	raw, err := io.ReadAll(io.LimitReader(reader, 10<<20))
	if err != nil {
		return "", err
	}
	utf8Reader, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return string(raw), nil
	}
	decoded, err := io.ReadAll(utf8Reader)
	if err != nil || len(decoded) == 0 {
		return string(raw), nil
	}
	return string(decoded), nil
}

// renderPage drives a headless browser through navigate, ready-wait and a
// short network-idle window, then returns the final HTML. Individual waits
// soft-fail so a slow page still yields whatever rendered.
func renderPage(ctx context.Context, pageURL string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(browserUserAgent),
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(pageURL)); err != nil {
		return "", err
	}

	readyCtx, readyCancel := context.WithTimeout(browserCtx, 10*time.Second)
	_ = chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	readyCancel()

	idleCtx, idleCancel := context.WithTimeout(browserCtx, 6*time.Second)
	_ = chromedp.Run(idleCtx, waitForNetworkIdle(1200*time.Millisecond))
	idleCancel()

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// waitForNetworkIdle resolves once no resource loads happened for d.
func waitForNetworkIdle(d time.Duration) chromedp.ActionFunc {
	js := `(function(waitMs){
      return new Promise((resolve)=>{
        if (!('PerformanceObserver' in window)) {
          setTimeout(resolve, waitMs);
          return;
        }
        let last = Date.now();
        const obs = new PerformanceObserver(()=>{ last = Date.now(); });
        try { obs.observe({entryTypes:['resource','navigation']}); } catch(e) {}
        const tick = () => {
          if (Date.now()-last >= waitMs) { try { obs.disconnect(); } catch(e){} resolve(); return; }
          setTimeout(tick, 100);
        };
        tick();
      });
    })(%d);`
	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(js, int(d.Milliseconds())), nil))
	}
}

// fetchManaged proxies the request through a managed scraping API when one
// is configured. The API renders and de-challenges the page server side.
func (c *Crawler) fetchManaged(ctx context.Context, pageURL string) (string, error) {
	if c.managedEndpoint == "" || c.managedKey == "" {
		return "", fmt.Errorf("managed crawl API not configured")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"url":       pageURL,
		"render_js": true,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.managedEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.managedKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("managed crawl API returned %d", resp.StatusCode)
	}
	var out struct {
		HTML string `json:"html"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.HTML == "" {
		return "", fmt.Errorf("managed crawl API returned empty html")
	}
	return out.HTML, nil
}

// FetchPage fetches a single page, escalating through the ladder: plain
// HTTP, headless browser render, managed scraping API.
func (c *Crawler) FetchPage(ctx context.Context, pageURL string) (string, error) {
	html, status, err := c.fetchPlain(ctx, pageURL)
	if err == nil && !IsBotWall(status, html) {
		return html, nil
	}
	logger.Info("Plain fetch blocked, escalating to browser render", "url", pageURL, "status", status)

	rendered, renderErr := renderPage(ctx, pageURL, 45*time.Second)
	if renderErr == nil && rendered != "" && !IsBotWall(200, rendered) {
		return rendered, nil
	}

	managed, managedErr := c.fetchManaged(ctx, pageURL)
	if managedErr == nil {
		return managed, nil
	}

	if err == nil {
		err = fmt.Errorf("bot protection at %s", pageURL)
	}
	return "", fmt.Errorf("all fetch strategies failed for %s: plain=%v render=%v managed=%v", pageURL, err, renderErr, managedErr)
}
