package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"knowledge-retrieval-service/internal/logger"
	"knowledge-retrieval-service/models"

	"github.com/PuerkitoBio/goquery"
	colly "github.com/gocolly/colly/v2"
	"github.com/temoto/robotstxt"
)

// minCrawlDelay is the politeness floor; robots.txt can raise it, never
// lower it. Actual delays get up to 2.5s of random jitter on top.
const (
	minCrawlDelay  = 3 * time.Second
	crawlJitterMax = 2500 * time.Millisecond
	defaultPageCap = 50
	linksPerPage   = 20
)

// CrawlConfig controls a single crawl run.
type CrawlConfig struct {
	URL             string
	MaxDepth        int
	MaxPages        int
	FollowLinks     bool
	IncludeProducts bool
	Timeout         time.Duration
}

// CrawlResult is the outcome of one crawl run.
type CrawlResult struct {
	URL          string
	Title        string
	Pages        []models.CrawledPage
	Products     []models.Product
	PagesFound   int
	PagesCrawled int
	Method       string // colly, rendered, wordpress, sitemap
}

// Crawler fetches and walks websites politely: robots.txt delays, retry
// with backoff on blocks, and escalation through render and managed-API
// fallbacks when bot protection gets in the way.
type Crawler struct {
	client          *http.Client
	managedKey      string
	managedEndpoint string

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.Group
}

func New(managedKey, managedEndpoint string) *Crawler {
	return &Crawler{
		client:          &http.Client{Timeout: 60 * time.Second},
		managedKey:      managedKey,
		managedEndpoint: managedEndpoint,
		robots:          make(map[string]*robotstxt.Group),
	}
}

// crawlDelay returns the politeness delay for a host, honoring a robots.txt
// Crawl-delay when it exceeds the floor. Robots files are cached per host.
func (c *Crawler) crawlDelay(ctx context.Context, scheme, host string) time.Duration {
	c.robotsMu.Lock()
	group, ok := c.robots[host]
	c.robotsMu.Unlock()

	if !ok {
		group = c.loadRobots(ctx, scheme, host)
		c.robotsMu.Lock()
		c.robots[host] = group
		c.robotsMu.Unlock()
	}

	delay := minCrawlDelay
	if group != nil && group.CrawlDelay > delay {
		delay = group.CrawlDelay
	}
	return delay
}

func (c *Crawler) loadRobots(ctx context.Context, scheme, host string) *robotstxt.Group {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data.FindGroup("*")
}

// allowedByRobots checks a path against the cached robots group.
func (c *Crawler) allowedByRobots(host, path string) bool {
	c.robotsMu.Lock()
	group := c.robots[host]
	c.robotsMu.Unlock()
	if group == nil {
		return true
	}
	return group.Test(path)
}

// trackingParams are stripped during normalization so the same page under
// different campaign links hashes identically.
var trackingParams = map[string]bool{"fbclid": true, "gclid": true, "msclkid": true, "ref": true}

// NormalizeURL canonicalizes a URL for duplicate detection: lowercase
// scheme/host, no fragment, no default port, no trailing slash on non-root
// paths, tracking query parameters removed.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	parsed.Fragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	if (parsed.Port() == "80" && parsed.Scheme == "http") || (parsed.Port() == "443" && parsed.Scheme == "https") {
		parsed.Host = parsed.Hostname()
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	} else if path != "/" {
		path = strings.TrimSuffix(path, "/")
		if path == "" {
			path = "/"
		}
	}
	parsed.Path = path

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			if trackingParams[key] || strings.HasPrefix(key, "utm_") {
				query.Del(key)
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// excludedLinkMarkers drop WordPress plumbing, cart actions and reply
// permutations that explode the URL space without adding content.
var excludedLinkMarkers = []string{
	"/wp-admin",
	"/wp-login.php",
	"/wp-includes/",
	"/xmlrpc.php",
	"replytocom=",
	"add-to-cart=",
	"/cart/",
	"/checkout/",
	"/feed/",
	"/rss/",
	"/atom/",
	"/?s=",
	"/search?",
}

var excludedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".css", ".js", ".zip", ".mp4", ".xml"}

func linkAllowed(normalized string, allowedHosts map[string]bool) bool {
	parsed, err := url.Parse(normalized)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if len(allowedHosts) > 0 && !allowedHosts[host] {
		return false
	}

	pathLower := strings.ToLower(parsed.Path)
	queryLower := strings.ToLower(parsed.RawQuery)
	for _, marker := range excludedLinkMarkers {
		if strings.Contains(pathLower, marker) || strings.Contains(queryLower, marker) {
			return false
		}
	}
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(pathLower, ext) {
			return false
		}
	}
	return true
}

// Crawl walks a site breadth-first from the start URL. When the direct
// crawl is blocked or empty it escalates: rendered start page, WordPress
// REST/feed probes, then the sitemap.
func (c *Crawler) Crawl(ctx context.Context, cfg CrawlConfig) (*CrawlResult, error) {
	parsedStart, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedStart.Scheme == "" {
		parsedStart.Scheme = "https"
		cfg.URL = parsedStart.String()
	}
	startURL, err := NormalizeURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultPageCap
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}

	host := strings.TrimPrefix(strings.ToLower(parsedStart.Hostname()), "www.")
	allowedHosts := map[string]bool{host: true}

	delay := c.crawlDelay(ctx, parsedStart.Scheme, parsedStart.Host)

	result := &CrawlResult{URL: startURL, Method: "colly"}
	pages, products, crawlErr := c.collyCrawl(ctx, cfg, startURL, parsedStart, allowedHosts, maxPages, maxDepth, delay)
	result.Pages = pages
	result.Products = products

	// escalate when the direct crawl came back empty
	if len(result.Pages) == 0 {
		logger.Info("Direct crawl empty, escalating", "url", startURL, "error", crawlErr)

		if page := c.fetchStartPage(ctx, startURL); page != nil {
			result.Pages = append(result.Pages, *page)
			result.Method = "rendered"
		}

		if wpPages := c.probeWordPress(ctx, parsedStart, maxPages-len(result.Pages)); len(wpPages) > 0 {
			result.Pages = append(result.Pages, wpPages...)
			result.Method = "wordpress"
		}

		if len(result.Pages) == 0 {
			sitemapPages := c.crawlFromSitemap(ctx, parsedStart, maxPages, delay)
			if len(sitemapPages) > 0 {
				result.Pages = sitemapPages
				result.Method = "sitemap"
			}
		}
	}

	if len(result.Pages) == 0 {
		if crawlErr != nil {
			return nil, crawlErr
		}
		return nil, fmt.Errorf("no content found at %s", startURL)
	}

	result.Title = result.Pages[0].Title
	result.PagesCrawled = len(result.Pages)
	result.PagesFound = result.PagesCrawled
	return result, nil
}

func (c *Crawler) collyCrawl(ctx context.Context, cfg CrawlConfig, startURL string, parsedStart *url.URL, allowedHosts map[string]bool, maxPages, maxDepth int, delay time.Duration) ([]models.CrawledPage, []models.Product, error) {
	options := []colly.CollectorOption{
		colly.Async(true),
		colly.MaxDepth(maxDepth),
		colly.UserAgent(browserUserAgent),
		colly.AllowedDomains(parsedStart.Hostname(), "www."+strings.TrimPrefix(parsedStart.Hostname(), "www.")),
	}
	collector := colly.NewCollector(options...)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
		RandomDelay: crawlJitterMax,
	})

	var (
		mu       sync.Mutex
		pages    []models.CrawledPage
		products []models.Product
		firstErr error
	)
	processed := sync.Map{}

	collector.OnRequest(func(r *colly.Request) {
		if !c.allowedByRobots(r.URL.Host, r.URL.Path) {
			r.Abort()
			return
		}
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		r.Headers.Set("Referer", fmt.Sprintf("%s://%s/", r.URL.Scheme, r.URL.Host))
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		mu.Lock()
		defer mu.Unlock()
		if len(pages) >= maxPages {
			return
		}

		normalized, err := NormalizeURL(e.Request.URL.String())
		if err != nil {
			return
		}
		if _, seen := processed.LoadOrStore(normalized, true); seen {
			return
		}

		if IsBotWall(e.Response.StatusCode, string(e.Response.Body)) {
			if firstErr == nil {
				firstErr = fmt.Errorf("bot protection at %s", normalized)
			}
			return
		}

		page := PageFromDocument(normalized, e.DOM, e.Request.Depth, e.Response.StatusCode)
		if page == nil {
			return
		}
		pages = append(pages, *page)

		if cfg.IncludeProducts {
			if product := ExtractProduct(e.DOM, normalized); product != nil {
				products = append(products, *product)
			}
		}

		if cfg.FollowLinks && len(pages) < maxPages {
			linkCount := 0
			e.DOM.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				href, ok := s.Attr("href")
				if !ok || href == "" || strings.HasPrefix(href, "#") {
					return true
				}
				lower := strings.ToLower(href)
				if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
					return true
				}
				absolute := e.Request.AbsoluteURL(href)
				if absolute == "" {
					return true
				}
				normalized, err := NormalizeURL(absolute)
				if err != nil {
					return true
				}
				if _, seen := processed.Load(normalized); seen {
					return true
				}
				if !linkAllowed(normalized, allowedHosts) {
					return true
				}
				linkCount++
				collector.Visit(normalized)
				return linkCount < linksPerPage
			})
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if strings.Contains(err.Error(), "already visited") {
			return
		}
		normalized, _ := NormalizeURL(r.Request.URL.String())
		mu.Lock()
		if normalized == startURL && firstErr == nil {
			if r.StatusCode != 0 {
				firstErr = fmt.Errorf("http %d at %s", r.StatusCode, startURL)
			} else {
				firstErr = fmt.Errorf("crawl %s: %w", startURL, err)
			}
		}
		mu.Unlock()
	})

	if err := collector.Visit(startURL); err != nil && !strings.Contains(err.Error(), "already visited") {
		return nil, nil, fmt.Errorf("start crawl: %w", err)
	}
	collector.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(pages) > 0 {
		return pages, products, nil
	}
	return nil, nil, firstErr
}

// fetchStartPage runs the escalation ladder for just the start URL.
func (c *Crawler) fetchStartPage(ctx context.Context, startURL string) *models.CrawledPage {
	html, err := c.FetchPage(ctx, startURL)
	if err != nil {
		logger.Warn("Start page escalation failed", "url", startURL, "error", err)
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	return PageFromDocument(startURL, doc.Selection, 0, 200)
}

// probeWordPress tries the REST API and the RSS feed, which often remain
// open on sites that block crawlers at the HTML layer.
func (c *Crawler) probeWordPress(ctx context.Context, site *url.URL, limit int) []models.CrawledPage {
	if limit <= 0 {
		return nil
	}
	base := fmt.Sprintf("%s://%s", site.Scheme, site.Host)

	restURL := base + "/wp-json/wp/v2/posts?per_page=10&_embed=1"
	if body, status, err := c.fetchPlain(ctx, restURL); err == nil && status == http.StatusOK {
		if pages := ParseWordPressPosts(body, limit); len(pages) > 0 {
			logger.Info("WordPress REST probe succeeded", "site", base, "pages", len(pages))
			return pages
		}
	}

	feedURL := base + "/feed/"
	if body, status, err := c.fetchPlain(ctx, feedURL); err == nil && status == http.StatusOK {
		if pages := ParseFeed(body, limit); len(pages) > 0 {
			logger.Info("RSS feed probe succeeded", "site", base, "pages", len(pages))
			return pages
		}
	}
	return nil
}

// crawlFromSitemap is the last resort: read the sitemap and fetch each
// listed URL directly with politeness delays.
func (c *Crawler) crawlFromSitemap(ctx context.Context, site *url.URL, maxPages int, delay time.Duration) []models.CrawledPage {
	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", site.Scheme, site.Host)
	body, status, err := c.fetchPlain(ctx, sitemapURL)
	if err != nil || status != http.StatusOK {
		return nil
	}
	urls := ParseSitemap(body, maxPages)

	// expand one level of sitemap index
	if len(urls) > 0 && IsSitemapURL(urls[0]) {
		var expanded []string
		for _, nested := range urls {
			if len(expanded) >= maxPages {
				break
			}
			nestedBody, nestedStatus, err := c.fetchPlain(ctx, nested)
			if err != nil || nestedStatus != http.StatusOK {
				continue
			}
			expanded = append(expanded, ParseSitemap(nestedBody, maxPages-len(expanded))...)
		}
		urls = expanded
	}

	var pages []models.CrawledPage
	for _, pageURL := range urls {
		if len(pages) >= maxPages {
			break
		}
		select {
		case <-ctx.Done():
			return pages
		case <-time.After(delay + time.Duration(float64(crawlJitterMax)*0.5)):
		}

		html, status, err := c.fetchPlain(ctx, pageURL)
		if err != nil || IsBotWall(status, html) {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			continue
		}
		if page := PageFromDocument(pageURL, doc.Selection, 0, status); page != nil {
			pages = append(pages, *page)
		}
	}
	if len(pages) > 0 {
		logger.Info("Sitemap fallback recovered pages", "site", site.Host, "pages", len(pages))
	}
	return pages
}

// PageFromDocument extracts the main content of a parsed page. Pages with
// fewer than 10 words are dropped as navigation shells.
func PageFromDocument(pageURL string, sel *goquery.Selection, depth, statusCode int) *models.CrawledPage {
	title := strings.TrimSpace(sel.Find("title").First().Text())
	content := extractMainContent(sel)
	if len(content) < 50 {
		content = strings.TrimSpace(sel.Find("body").Text())
	}
	wordCount := len(strings.Fields(content))
	if wordCount < 10 {
		return nil
	}

	meta := models.PageMetadata{}
	if desc, ok := sel.Find("meta[name='description']").Attr("content"); ok {
		meta.Description = strings.TrimSpace(desc)
	}
	if ogTitle, ok := sel.Find("meta[property='og:title']").Attr("content"); ok {
		meta.OGTitle = strings.TrimSpace(ogTitle)
	}
	if canonical, ok := sel.Find("link[rel='canonical']").Attr("href"); ok {
		meta.CanonicalURL = strings.TrimSpace(canonical)
	}

	return &models.CrawledPage{
		URL:        pageURL,
		Title:      title,
		Content:    content,
		Depth:      depth,
		CrawledAt:  time.Now(),
		StatusCode: statusCode,
		WordCount:  wordCount,
		Metadata:   meta,
	}
}

// extractMainContent walks the selector ladder from semantic containers
// down to body, stripping chrome first.
func extractMainContent(sel *goquery.Selection) string {
	doc := sel.Clone()
	doc.Find("script, style, nav, footer, header, aside, noscript, iframe, .nav, .navbar, .footer, .header, .sidebar, .advertisement, .ads").Remove()

	selectors := []string{"main", "article", "[role='main']", ".main-content", ".content", "#content", ".post", ".entry", "body"}

	var builder strings.Builder
	for _, selector := range selectors {
		found := false
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len(text) > 100 {
				builder.WriteString(text)
				builder.WriteString("\n\n")
				found = true
			}
		})
		if found {
			break
		}
	}
	if builder.Len() == 0 {
		builder.WriteString(doc.Find("body").Text())
	}

	lines := strings.Split(builder.String(), "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
