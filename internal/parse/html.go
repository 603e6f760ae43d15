package parse

import (
	"bytes"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseHTML extracts visible text line by line, dropping script, style and
// noscript subtrees. The document title falls back to the supplied title,
// then the filename.
func parseHTML(path, fallbackTitle string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "parse: read %s", path)
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(err, "parse: html %s", path)
	}

	title := findTitle(doc)
	if title == "" {
		title = titleOr(fallbackTitle, path)
	}

	var sb strings.Builder
	collectText(doc, &sb)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			lines = append(lines, s)
		}
	}
	return &Parsed{Title: title, Text: strings.Join(lines, "\n")}, nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript:
			return
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
