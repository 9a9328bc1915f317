package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/joseph-ayodele/evidence-pipeline/internal/entity"
)

const htmlQuality = 0.85

var skipAtoms = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Noscript: true,
	atom.Header:   true,
	atom.Aside:    true,
	atom.Template: true,
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Blockquote: true, atom.Pre: true, atom.Caption: true, atom.Main: true,
}

var (
	reInlineSpace = regexp.MustCompile(`[ \t\x{00A0}]+`)
	reBlankLines  = regexp.MustCompile(`\n{2,}`)
)

func (s *Service) extractHTML(_ context.Context, in input) (extraction, error) {
	r, err := charset.NewReader(bytes.NewReader(in.data), in.mimeType)
	if err != nil {
		return extraction{}, fmt.Errorf("charset: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return extraction{}, err
	}

	base, _ := url.Parse(in.opts.BaseURL)
	if href := findBaseHref(doc); href != "" {
		if b, err := url.Parse(href); err == nil {
			if base != nil {
				b = base.ResolveReference(b)
			}
			base = b
		}
	}

	root := findFirst(doc, atom.Body)
	if root == nil {
		root = doc
	}

	var text strings.Builder
	writeText(&text, root)

	var tables []entity.Table
	var images []entity.ImageRef
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if skipAtoms[n.DataAtom] {
			return false
		}
		switch n.DataAtom {
		case atom.Table:
			if t, ok := parseTable(n, len(tables)+1); ok {
				tables = append(tables, t)
			}
		case atom.Img:
			if ref, ok := imageRef(n, base); ok {
				images = append(images, ref)
			}
		}
		return true
	})

	if title := findFirst(doc, atom.Title); title != nil {
		pageTitle := collapse(nodeText(title))
		for i := range tables {
			if strings.HasPrefix(tables[i].Title, "Table ") && pageTitle != "" {
				tables[i].Title = pageTitle + " - " + tables[i].Title
			}
		}
	}

	body := cleanText(text.String())
	q := htmlQuality
	if body == "" && len(tables) == 0 {
		q = 0
	}
	return extraction{
		content: entity.Content{Text: body, Tables: tables, Images: images},
		quality: q,
	}, nil
}

// walk visits n and its descendants; fn returning false prunes the subtree.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}

func findBaseHref(doc *html.Node) string {
	if b := findFirst(doc, atom.Base); b != nil {
		return attr(b, "href")
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipAtoms[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Td || n.DataAtom == atom.Th {
			b.WriteByte('\t')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
		b.WriteByte('\n')
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	writeText(&b, n)
	return b.String()
}

func collapse(s string) string {
	return strings.TrimSpace(reInlineSpace.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " "))
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		ln = strings.TrimSpace(reInlineSpace.ReplaceAllString(ln, " "))
		out = append(out, ln)
	}
	return strings.TrimSpace(reBlankLines.ReplaceAllString(strings.Join(out, "\n"), "\n"))
}

// parseTable reads the rows owned by t (nested tables are parsed on their own).
// The first row, th or td, becomes the headers.
func parseTable(t *html.Node, ordinal int) (entity.Table, bool) {
	var rows [][]string
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				continue
			case atom.Tr:
				var cells []string
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type != html.ElementNode || (cell.DataAtom != atom.Td && cell.DataAtom != atom.Th) {
						continue
					}
					cells = append(cells, collapse(nodeText(cell)))
				}
				if len(cells) == 0 {
					continue
				}
				rows = append(rows, cells)
			default:
				collect(c)
			}
		}
	}
	collect(t)
	if len(rows) == 0 {
		return entity.Table{}, false
	}
	title := fmt.Sprintf("Table %d", ordinal)
	for c := t.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Caption {
			if text := collapse(nodeText(c)); text != "" {
				title = text
			}
		}
	}
	tbl := entity.Table{Title: title, Headers: rows[0]}
	for _, r := range rows[1:] {
		tbl.Rows = append(tbl.Rows, coerceRow(r, len(tbl.Headers)))
	}
	return tbl, true
}

func imageRef(n *html.Node, base *url.URL) (entity.ImageRef, bool) {
	src := attr(n, "src")
	if src == "" || strings.HasPrefix(src, "data:") {
		return entity.ImageRef{}, false
	}
	u, err := url.Parse(src)
	if err != nil {
		return entity.ImageRef{}, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return entity.ImageRef{Src: u.String(), Alt: attr(n, "alt")}, true
}
