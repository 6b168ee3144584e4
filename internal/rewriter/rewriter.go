// Package rewriter transforms every domain-bearing reference in an HTML
// response body so that navigation and embedded resources stay inside the
// mirror (spec §4.7). The element-attribute pass walks a parsed DOM tree in
// the manner of other_examples' catnip proxy handler (golang.org/x/net/html,
// adopted from the pack rather than the teacher); the inline-script and
// inline-style passes are regex substitutions in the teacher's own
// contentRewriter idiom (internal/handlers/reverse_proxy.go).
package rewriter

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/CrimsonAJ/proxibase/internal/siteconfig"
	"github.com/CrimsonAJ/proxibase/internal/urlalgebra"
)

// Context carries everything the rewriter needs to map a URL found in the
// page back into the mirror namespace.
type Context struct {
	MirrorHost   string
	MirrorScheme string
	Site         *siteconfig.Site
	Effective    siteconfig.EffectiveConfig
	PageOrigin   string // the origin URL the response body was fetched from
}

// urlAttrs maps element name to the attributes on it that carry a single URL
// (srcset-bearing attributes are handled separately, see srcsetAttrs).
var urlAttrs = map[string][]string{
	"a":      {"href"},
	"form":   {"action"},
	"iframe": {"src"},
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src"},
	"source": {"src"},
	"video":  {"src"},
	"audio":  {"src"},
	"base":   {"href"},
}

// srcsetAttrs lists the elements/attributes whose value is a comma-separated
// list of "<url> <descriptor>" candidates, each rewritten independently.
var srcsetAttrs = map[string][]string{
	"img":    {"srcset"},
	"source": {"srcset"},
}

// Rewrite parses body as HTML and returns the rewritten bytes. Only called
// when the response content-type starts with text/html. Parser failures fall
// back to a best-effort textual pass — see rewriteTextFallback.
func Rewrite(body []byte, ctx Context) []byte {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return rewriteTextFallback(body, ctx)
	}

	walk(doc, ctx)

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return rewriteTextFallback(body, ctx)
	}
	return out.Bytes()
}

func walk(n *html.Node, ctx Context) {
	if n.Type == html.ElementNode {
		rewriteElementAttrs(n, ctx)
		if n.Data == "script" && !hasAttr(n, "src") && ctx.Effective.RewriteJSRedirects {
			rewriteInlineScript(n, ctx)
		}
		if n.Data == "style" {
			rewriteInlineStyleNode(n, ctx)
		}
		if styleVal, ok := attrVal(n, "style"); ok {
			setAttr(n, "style", rewriteCSSURLs(styleVal, ctx))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, ctx)
	}
}

func rewriteElementAttrs(n *html.Node, ctx Context) {
	if attrs, ok := urlAttrs[n.Data]; ok {
		for _, name := range attrs {
			if v, ok := attrVal(n, name); ok && v != "" {
				setAttr(n, name, urlalgebra.RewriteURLInPage(v, ctx.PageOrigin, ctx.Site, ctx.Effective, ctx.MirrorHost, ctx.MirrorScheme))
			}
		}
	}
	if attrs, ok := srcsetAttrs[n.Data]; ok {
		for _, name := range attrs {
			if v, ok := attrVal(n, name); ok && v != "" {
				setAttr(n, name, rewriteSrcset(v, ctx))
			}
		}
	}
}

// rewriteSrcset rewrites each comma-separated "<url> <descriptor>" candidate
// independently, preserving the descriptor; candidates are trimmed and
// rejoined with ", ", so the original whitespace around separators is not kept.
func rewriteSrcset(value string, ctx Context) string {
	candidates := strings.Split(value, ",")
	for i, c := range candidates {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, " ", 2)
		url := parts[0]
		rewritten := urlalgebra.RewriteURLInPage(url, ctx.PageOrigin, ctx.Site, ctx.Effective, ctx.MirrorHost, ctx.MirrorScheme)
		if len(parts) == 2 {
			candidates[i] = rewritten + " " + parts[1]
		} else {
			candidates[i] = rewritten
		}
	}
	return strings.Join(candidates, ", ")
}

func rewriteInlineStyleNode(n *html.Node, ctx Context) {
	if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
		n.FirstChild.Data = rewriteCSSURLs(n.FirstChild.Data, ctx)
	}
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := attrVal(n, name)
	return ok
}

func attrVal(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

// rewriteTextFallback degrades gracefully when the body does not parse as
// HTML: it still runs the inline-style URL pass over the raw bytes, since
// that regex-based pass does not depend on a DOM tree. Per spec §4.7 and
// §7, parser failures must never surface as a user-visible error.
func rewriteTextFallback(body []byte, ctx Context) []byte {
	return []byte(rewriteCSSURLs(string(body), ctx))
}
