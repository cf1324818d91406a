package knowledge

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hiddenElements never contribute text.
var hiddenElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Template: true,
}

// HTMLText converts an HTML document to markdown-ish plain text:
// headings keep a "#" prefix, list items become "- " lines, and block
// elements are separated by blank lines.
func HTMLText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	var b strings.Builder
	walkHTML(doc, &b)
	return tidyLines(b.String())
}

func walkHTML(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteString(" ")
		}
		return
	case html.ElementNode:
		if hiddenElements[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Title {
			b.WriteString("# ")
		}
		if level := headingLevel(n.DataAtom); level > 0 {
			b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		}
		switch n.DataAtom {
		case atom.Li:
			b.WriteString("\n- ")
		case atom.P, atom.Div, atom.Section, atom.Article, atom.Table, atom.Tr, atom.Ul, atom.Ol:
			b.WriteString("\n\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, b)
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Br, atom.Title:
			b.WriteString("\n")
		case atom.Td, atom.Th:
			b.WriteString("| ")
		}
	}
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4, atom.H5, atom.H6:
		return 4
	}
	return 0
}

// tidyLines collapses inner whitespace and runs of blank lines.
func tidyLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
