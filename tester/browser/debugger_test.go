package browser_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"gitlab.com/plurl/session"
	"gitlab.com/plurl/tester/browser"
)

const testPage = `<html><head><title>plurl test</title></head>
<body>
<button id="go" onclick="document.getElementById('out').textContent='clicked'">go</button>
<div id="out"></div>
<script>setTimeout(() => {
	const d = document.createElement('div');
	d.id = 'late';
	document.body.appendChild(d);
}, 300);</script>
</body></html>`

func TestSanitizeSelector(t *testing.T) {
	var inputs = []struct {
		in       string
		expected string
	}{
		{"#login", "#login"},
		{"  .btn.primary ", ".btn.primary"},
		{`#x"; alert(1); "`, "#x alert(1)"},
		{"<script>", "script"},
		{"a|b&c", "abc"},
	}
	for _, in := range inputs {
		if got := browser.SanitizeSelector(in.in); got != in.expected {
			t.Fatalf("%q did not match %q for %q\n", got, in.expected, in.in)
		}
	}
}

// TestBrowserSession drives a real chrome and is skipped unless
// PLURL_BROWSER_TESTS is set.
func TestBrowserSession(t *testing.T) {
	if os.Getenv("PLURL_BROWSER_TESTS") == "" {
		t.Skip("PLURL_BROWSER_TESTS not set")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	logger := session.New("", true)
	leaser := browser.NewLocalLeaser(true)
	d := browser.NewDebugger(logger, leaser)
	defer leaser.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := d.Launch(ctx); err != nil {
		t.Fatalf("error launching browser: %s\n", err)
	}
	defer d.Close()

	if err := d.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("error navigating: %s\n", err)
	}
	if title := d.Title(); title != "plurl test" {
		t.Fatalf("title was %q\n", title)
	}

	if !d.WaitForElement(ctx, "#late", 5*time.Second) {
		t.Fatalf("late element never appeared\n")
	}
	if d.WaitForElement(ctx, "#never", time.Second) {
		t.Fatalf("found an element that does not exist\n")
	}

	if !d.ClickElement(ctx, "#go") {
		t.Fatalf("click failed\n")
	}

	os.RemoveAll("testdata/shots")
	if !d.Screenshot("testdata/shots/page.png") {
		t.Fatalf("screenshot failed\n")
	}
	if _, err := os.Stat("testdata/shots/page.png"); err != nil {
		t.Fatalf("screenshot file missing: %s\n", err)
	}

	metrics := d.Metrics()
	t.Logf("metrics: %s", spew.Sdump(metrics))
	if metrics["url"] == "" {
		t.Fatalf("metrics missing url\n")
	}
}
