package crawler

import (
	"context"
	"testing"
	"time"
)

// Network and Chrome dependent; validates the render escalation path end
// to end when the environment has both.
func TestFetchPageRendered(t *testing.T) {
	if testing.Short() {
		t.Skip("network test")
	}
	c := New("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	html, err := c.FetchPage(ctx, "https://example.com/")
	if err != nil {
		t.Skipf("environment without network or Chrome: %v", err)
	}
	if len(html) == 0 {
		t.Fatal("expected page HTML")
	}
}
