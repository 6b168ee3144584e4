package rewriter

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/CrimsonAJ/proxibase/internal/urlalgebra"
)

// locationAssignPattern matches the four coarse JS-redirect shapes spec
// §4.7 step 3 names, capturing the quote character and the URL body so the
// replacement can preserve quoting. No variable tracking, no AST — matching
// the teacher's regex-substitution idiom (internal/handlers/reverse_proxy.go).
var locationAssignPattern = regexp.MustCompile(
	`(window\.location\.href\s*=\s*|location\.href\s*=\s*|location\.replace\(\s*|location\s*=\s*)(["'])([^"']*)(["'])`,
)

func rewriteInlineScript(n *html.Node, ctx Context) {
	if n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
		return
	}
	n.FirstChild.Data = locationAssignPattern.ReplaceAllStringFunc(n.FirstChild.Data, func(match string) string {
		groups := locationAssignPattern.FindStringSubmatch(match)
		prefix, quote, url := groups[1], groups[2], groups[3]
		rewritten := urlalgebra.RewriteURLInPage(url, ctx.PageOrigin, ctx.Site, ctx.Effective, ctx.MirrorHost, ctx.MirrorScheme)
		return prefix + quote + rewritten + quote
	})
}

// cssURLPattern matches CSS url(...) occurrences with double, single, or no
// quoting, per spec §4.7 step 4.
var cssURLPattern = regexp.MustCompile(`url\(\s*(["']?)([^"')]*)(["']?)\s*\)`)

// rewriteCSSURLs rewrites every url(...) occurrence in a CSS body or a
// style="" attribute value, leaving data: URLs untouched and preserving the
// original quoting form (or lack of it).
func rewriteCSSURLs(css string, ctx Context) string {
	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		groups := cssURLPattern.FindStringSubmatch(match)
		openQuote, rawURL, closeQuote := groups[1], groups[2], groups[3]
		trimmed := strings.TrimSpace(rawURL)
		if strings.HasPrefix(strings.ToLower(trimmed), "data:") {
			return match
		}
		rewritten := urlalgebra.RewriteURLInPage(trimmed, ctx.PageOrigin, ctx.Site, ctx.Effective, ctx.MirrorHost, ctx.MirrorScheme)
		return "url(" + openQuote + rewritten + closeQuote + ")"
	})
}
