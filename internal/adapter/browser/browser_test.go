package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chromePath finds a local Chrome or skips the test.
func chromePath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping headless browser test in short mode")
	}
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no chrome binary found")
	return ""
}

func TestBrowser_RenderAndEvaluate(t *testing.T) {
	exe := chromePath(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div id="app"></div>
<script>document.getElementById("app").innerHTML = '<p class="card">Fall 5K</p>';</script>
</body></html>`))
	}))
	defer srv.Close()

	b := New(Options{ExecPath: exe, Headless: true, NavTimeout: 20 * time.Second}, discardLogger())
	defer func() { require.NoError(t, b.Close()) }()

	html, err := b.RenderHTML(context.Background(), srv.URL, Wait{Selector: ".card"})
	require.NoError(t, err)
	assert.Contains(t, html, "Fall 5K")

	var texts []string
	err = b.Evaluate(context.Background(), srv.URL, Wait{Selector: ".card"},
		`Array.from(document.querySelectorAll(".card")).map(e => e.textContent)`, &texts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fall 5K"}, texts)
}

func TestBrowser_ClosedRejectsRender(t *testing.T) {
	b := New(Options{}, discardLogger())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.RenderHTML(context.Background(), "http://127.0.0.1", Wait{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBrowser_ReleaseRelaunches(t *testing.T) {
	exe := chromePath(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Turkey Trot</p></body></html>`))
	}))
	defer srv.Close()

	b := New(Options{ExecPath: exe, Headless: true, NavTimeout: 20 * time.Second}, discardLogger())
	defer func() { require.NoError(t, b.Close()) }()

	for range 2 {
		html, err := b.RenderHTML(context.Background(), srv.URL, Wait{})
		require.NoError(t, err)
		assert.Contains(t, html, "Turkey Trot")
		require.NoError(t, b.Release())
	}
}
