package crawler

import (
	"encoding/json"
	"encoding/xml"
	"net/url"
	"strconv"
	"strings"
	"time"

	"knowledge-retrieval-service/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

// ParseSitemap returns page URLs from a sitemap document. Handles both
// urlset files and sitemap indexes; for an index it returns the nested
// sitemap URLs so the caller can expand them.
func ParseSitemap(body string, limit int) []string {
	var urlset struct {
		XMLName xml.Name `xml:"urlset"`
		URLs    []struct {
			Loc string `xml:"loc"`
		} `xml:"url"`
	}
	if err := xml.Unmarshal([]byte(body), &urlset); err == nil && len(urlset.URLs) > 0 {
		return sitemapLocs(limit, func(yield func(string)) {
			for _, u := range urlset.URLs {
				yield(u.Loc)
			}
		})
	}

	var index struct {
		XMLName  xml.Name `xml:"sitemapindex"`
		Sitemaps []struct {
			Loc string `xml:"loc"`
		} `xml:"sitemap"`
	}
	if err := xml.Unmarshal([]byte(body), &index); err == nil && len(index.Sitemaps) > 0 {
		return sitemapLocs(limit, func(yield func(string)) {
			for _, s := range index.Sitemaps {
				yield(s.Loc)
			}
		})
	}
	return nil
}

func sitemapLocs(limit int, each func(yield func(string))) []string {
	var locs []string
	each(func(loc string) {
		if limit > 0 && len(locs) >= limit {
			return
		}
		loc = strings.TrimSpace(loc)
		if loc == "" {
			return
		}
		if normalized, err := NormalizeURL(loc); err == nil {
			locs = append(locs, normalized)
		}
	})
	return locs
}

// IsSitemapURL reports whether a sitemap loc points at another sitemap
// rather than a page.
func IsSitemapURL(loc string) bool {
	return strings.HasSuffix(strings.ToLower(loc), ".xml")
}

// ParseFeed extracts pages from an RSS or Atom feed.
func ParseFeed(body string, limit int) []models.CrawledPage {
	var rss struct {
		XMLName xml.Name `xml:"rss"`
		Items   []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			Encoded     string `xml:"encoded"`
		} `xml:"channel>item"`
	}
	if err := xml.Unmarshal([]byte(body), &rss); err == nil && len(rss.Items) > 0 {
		var pages []models.CrawledPage
		for _, item := range rss.Items {
			if limit > 0 && len(pages) >= limit {
				break
			}
			content := item.Encoded
			if content == "" {
				content = item.Description
			}
			if page := feedPage(item.Link, item.Title, content); page != nil {
				pages = append(pages, *page)
			}
		}
		return pages
	}

	var atom struct {
		XMLName xml.Name `xml:"feed"`
		Entries []struct {
			Title string `xml:"title"`
			Links []struct {
				Href string `xml:"href,attr"`
				Rel  string `xml:"rel,attr"`
			} `xml:"link"`
			Content string `xml:"content"`
			Summary string `xml:"summary"`
		} `xml:"entry"`
	}
	if err := xml.Unmarshal([]byte(body), &atom); err == nil && len(atom.Entries) > 0 {
		var pages []models.CrawledPage
		for _, entry := range atom.Entries {
			if limit > 0 && len(pages) >= limit {
				break
			}
			link := ""
			for _, l := range entry.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					link = l.Href
					break
				}
			}
			content := entry.Content
			if content == "" {
				content = entry.Summary
			}
			if page := feedPage(link, entry.Title, content); page != nil {
				pages = append(pages, *page)
			}
		}
		return pages
	}
	return nil
}

func feedPage(link, title, htmlContent string) *models.CrawledPage {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil
	}
	normalized, err := NormalizeURL(link)
	if err != nil {
		return nil
	}
	content := stripHTML(htmlContent)
	wordCount := len(strings.Fields(content))
	if wordCount < 10 {
		return nil
	}
	return &models.CrawledPage{
		URL:        normalized,
		Title:      strings.TrimSpace(title),
		Content:    content,
		CrawledAt:  time.Now(),
		StatusCode: 200,
		WordCount:  wordCount,
	}
}

// ParseWordPressPosts converts a /wp-json/wp/v2/posts response to pages.
func ParseWordPressPosts(body string, limit int) []models.CrawledPage {
	var posts []struct {
		Link  string `json:"link"`
		Title struct {
			Rendered string `json:"rendered"`
		} `json:"title"`
		Content struct {
			Rendered string `json:"rendered"`
		} `json:"content"`
		Excerpt struct {
			Rendered string `json:"rendered"`
		} `json:"excerpt"`
	}
	if err := json.Unmarshal([]byte(body), &posts); err != nil {
		return nil
	}

	var pages []models.CrawledPage
	for _, post := range posts {
		if limit > 0 && len(pages) >= limit {
			break
		}
		content := post.Content.Rendered
		if content == "" {
			content = post.Excerpt.Rendered
		}
		if page := feedPage(post.Link, stripHTML(post.Title.Rendered), content); page != nil {
			pages = append(pages, *page)
		}
	}
	return pages
}

func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("script, style").Remove()
	lines := strings.Split(doc.Text(), "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

// ExtractProduct pulls structured product data from a page, preferring
// JSON-LD over CSS selector guessing. Returns nil when the page does not
// look like a product.
func ExtractProduct(sel *goquery.Selection, pageURL string) *models.Product {
	product := &models.Product{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if parsed, err := url.Parse(pageURL); err == nil {
		product.ShopDomain = parsed.Hostname()
		if idx := strings.Index(parsed.Path, "/products/"); idx >= 0 {
			product.Handle = strings.Trim(parsed.Path[idx+len("/products/"):], "/")
		}
	}

	sel.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if ldType, _ := data["@type"].(string); !strings.EqualFold(ldType, "Product") {
			return true
		}
		if name, ok := data["name"].(string); ok {
			product.Title = name
		}
		if desc, ok := data["description"].(string); ok {
			product.Description = desc
		}
		if img, ok := data["image"].(string); ok {
			product.ImageURL = img
		}
		product.Price = ldPrice(data)
		if brand, ok := data["brand"].(map[string]interface{}); ok {
			if vendor, ok := brand["name"].(string); ok {
				product.Vendor = vendor
			}
		}
		return false
	})

	if product.Title == "" {
		for _, selector := range []string{"h1.product-title", "h1[itemprop='name']", ".product-name", "h1"} {
			if name := strings.TrimSpace(sel.Find(selector).First().Text()); name != "" {
				product.Title = name
				break
			}
		}
	}
	if product.Price == 0 {
		for _, selector := range []string{"[itemprop='price']", ".price", ".product-price"} {
			if raw := strings.TrimSpace(sel.Find(selector).First().Text()); raw != "" {
				product.Price = parsePrice(raw)
				break
			}
		}
	}

	if product.Title == "" || product.Price == 0 {
		return nil
	}
	return product
}

func ldPrice(data map[string]interface{}) float64 {
	offers, ok := data["offers"].(map[string]interface{})
	if !ok {
		if list, ok := data["offers"].([]interface{}); ok && len(list) > 0 {
			offers, _ = list[0].(map[string]interface{})
		}
	}
	if offers == nil {
		return 0
	}
	switch v := offers["price"].(type) {
	case float64:
		return v
	case string:
		return parsePrice(v)
	}
	return 0
}

func parsePrice(raw string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, raw)
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return value
}
