package rewriter

import (
	"strings"
	"testing"

	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
)

func testContext() Context {
	site := &siteconfig.Site{MirrorRoot: "m.test", SourceRoot: "example.com", Enabled: true}
	return Context{
		MirrorHost:   "m.test",
		MirrorScheme: "https",
		Site:         site,
		Effective:    siteconfig.Effective(site, siteconfig.GlobalConfig{}),
		PageOrigin:   "https://example.com/",
	}
}

func TestRewriteAnchorHref(t *testing.T) {
	in := `<html><body><a href="https://example.com/x">link</a></body></html>`
	out := string(Rewrite([]byte(in), testContext()))
	if !strings.Contains(out, `href="https://m.test/x"`) {
		t.Fatalf("expected rewritten href, got %s", out)
	}
}

func TestRewriteExternalDomain(t *testing.T) {
	in := `<a href="https://other.org/y">ext</a>`
	out := string(Rewrite([]byte(in), testContext()))
	if !strings.Contains(out, `href="https://m.test/other.org/y"`) {
		t.Fatalf("expected encoded external href, got %s", out)
	}
}

func TestRewriteSrcset(t *testing.T) {
	in := `<img srcset="https://example.com/a.jpg 1x, https://example.com/b.jpg 2x">`
	out := string(Rewrite([]byte(in), testContext()))
	if !strings.Contains(out, "https://m.test/a.jpg 1x") || !strings.Contains(out, "https://m.test/b.jpg 2x") {
		t.Fatalf("expected both srcset candidates rewritten, got %s", out)
	}
}

func TestRewriteInlineScriptRedirect(t *testing.T) {
	in := `<script>window.location.href = "https://example.com/login";</script>`
	out := string(Rewrite([]byte(in), testContext()))
	if !strings.Contains(out, `window.location.href = "https://m.test/login"`) {
		t.Fatalf("expected rewritten redirect, got %s", out)
	}
}

func TestRewriteInlineScriptDisabledByConfig(t *testing.T) {
	ctx := testContext()
	ctx.Effective.RewriteJSRedirects = false
	in := `<script>location.href = "https://example.com/login";</script>`
	out := string(Rewrite([]byte(in), ctx))
	if !strings.Contains(out, `location.href = "https://example.com/login"`) {
		t.Fatalf("expected unrewritten redirect when disabled, got %s", out)
	}
}

func TestRewriteStyleTagURL(t *testing.T) {
	in := `<style>body { background: url('https://example.com/bg.png'); }</style>`
	out := string(Rewrite([]byte(in), testContext()))
	if !strings.Contains(out, `url('https://m.test/bg.png')`) {
		t.Fatalf("expected rewritten css url, got %s", out)
	}
}

func TestRewriteStyleAttrURL(t *testing.T) {
	in := `<div style="background: url(https://example.com/bg.png)"></div>`
	out := string(Rewrite([]byte(in), testContext()))
	if !strings.Contains(out, "url(https://m.test/bg.png)") {
		t.Fatalf("expected rewritten style attr, got %s", out)
	}
}

func TestRewriteStyleDataURIUntouched(t *testing.T) {
	in := `<style>body { background: url(data:image/png;base64,AAA); }</style>`
	out := string(Rewrite([]byte(in), testContext()))
	if !strings.Contains(out, "url(data:image/png;base64,AAA)") {
		t.Fatalf("expected data uri left alone, got %s", out)
	}
}

func TestRewriteIdempotentOnMirrorURLs(t *testing.T) {
	in := `<a href="https://m.test/x">link</a>`
	first := string(Rewrite([]byte(in), testContext()))
	second := string(Rewrite([]byte(first), testContext()))
	if first != second {
		t.Fatalf("expected idempotent rewrite, got %q then %q", first, second)
	}
}

func TestRewriteMalformedHTMLFallsBackGracefully(t *testing.T) {
	in := "<div><span>unterminated"
	out := Rewrite([]byte(in), testContext())
	if out == nil {
		t.Fatal("expected best-effort output, not nil")
	}
}
