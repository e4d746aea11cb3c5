package crawler

import (
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/Page/", "https://example.com/Page"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"http://example.com:80/", "http://example.com/"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com/a?utm_source=x&utm_medium=y&id=5", "https://example.com/a?id=5"},
		{"https://example.com/a?fbclid=abc", "https://example.com/a"},
		{"https://example.com", "https://example.com/"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLinkAllowed(t *testing.T) {
	hosts := map[string]bool{"example.com": true}

	allowed := []string{
		"https://example.com/docs/intro",
		"https://www.example.com/pricing",
	}
	for _, u := range allowed {
		if !linkAllowed(u, hosts) {
			t.Errorf("%q should be allowed", u)
		}
	}

	blocked := []string{
		"https://other.com/page",
		"https://example.com/wp-admin/options.php",
		"https://example.com/wp-login.php",
		"https://example.com/xmlrpc.php",
		"https://example.com/post?replytocom=42",
		"https://example.com/shop?add-to-cart=9",
		"https://example.com/image.png",
		"https://example.com/style.css",
		"ftp://example.com/file",
	}
	for _, u := range blocked {
		if linkAllowed(u, hosts) {
			t.Errorf("%q should be blocked", u)
		}
	}
}

func TestIsBotWall(t *testing.T) {
	if !IsBotWall(403, "<html><title>Just a moment...</title>Cloudflare Ray ID: abc</html>") {
		t.Error("cloudflare challenge not detected")
	}
	if !IsBotWall(503, "Checking your browser before accessing") {
		t.Error("browser check interstitial not detected")
	}
	if !IsBotWall(403, "Sucuri Website Firewall - Access Denied") {
		t.Error("sucuri block not detected")
	}
	if IsBotWall(200, "Welcome to our documentation portal") {
		t.Error("normal page flagged as bot wall")
	}
	if IsBotWall(404, "not found") {
		t.Error("plain 404 flagged as bot wall")
	}
}

func TestParseSitemap(t *testing.T) {
	body := `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a/</loc></url>
  <url><loc>https://example.com/b</loc></url>
  <url><loc>https://example.com/c</loc></url>
</urlset>`
	urls := ParseSitemap(body, 2)
	if len(urls) != 2 {
		t.Fatalf("got %d urls, want 2", len(urls))
	}
	if urls[0] != "https://example.com/a" {
		t.Errorf("loc not normalized: %q", urls[0])
	}

	index := `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap>
</sitemapindex>`
	nested := ParseSitemap(index, 10)
	if len(nested) != 1 || !IsSitemapURL(nested[0]) {
		t.Errorf("sitemap index not handled: %v", nested)
	}
}

func TestParseFeed(t *testing.T) {
	rss := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item>
    <title>Refund policy update</title>
    <link>https://example.com/blog/refunds</link>
    <description><![CDATA[<p>We extended the refund window to thirty days for all plans starting this quarter.</p>]]></description>
  </item>
</channel></rss>`
	pages := ParseFeed(rss, 10)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if pages[0].Title != "Refund policy update" {
		t.Errorf("title = %q", pages[0].Title)
	}
	if pages[0].URL != "https://example.com/blog/refunds" {
		t.Errorf("url = %q", pages[0].URL)
	}
	if pages[0].Content == "" || pages[0].Content[0] == '<' {
		t.Errorf("content not stripped of HTML: %q", pages[0].Content)
	}
}

func TestParseWordPressPosts(t *testing.T) {
	body := `[{"link":"https://example.com/post-1/","title":{"rendered":"Getting Started"},"content":{"rendered":"<p>Install the agent, connect your account and follow the onboarding checklist to finish setup.</p>"}}]`
	pages := ParseWordPressPosts(body, 10)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if pages[0].URL != "https://example.com/post-1" {
		t.Errorf("url = %q", pages[0].URL)
	}
	if pages[0].Title != "Getting Started" {
		t.Errorf("title = %q", pages[0].Title)
	}
}

func TestParsePrice(t *testing.T) {
	if got := parsePrice("$1,299.00"); got != 1299.0 {
		t.Errorf("parsePrice = %v, want 1299", got)
	}
	if got := parsePrice("free"); got != 0 {
		t.Errorf("parsePrice = %v, want 0", got)
	}
}
