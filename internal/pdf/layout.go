package pdf

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	defaultFontSize = 12.0
	// average glyph advance as a fraction of the font size, used when MuPDF
	// gives a line no explicit width
	glyphAdvance = 0.5
)

// ParseLayout reads the absolutely positioned HTML MuPDF emits for a page
// (fz_print_stext_page_as_html) and recovers page size, text lines and images.
func ParseLayout(markup string) (*PageLayout, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	layout := &PageLayout{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			style := parseStyle(attr(n, "style"))
			switch n.Data {
			case "div":
				if strings.HasPrefix(attr(n, "id"), "page") {
					w, okW := style.points("width")
					h, okH := style.points("height")
					if okW && okH {
						layout.Bounds = Rect{X1: w, Y1: h}
					}
				}
			case "img":
				if box, ok := style.box(); ok && !box.Empty() {
					img := ImageBox{Box: box}
					img.Data, img.Mime = decodeDataURI(attr(n, "src"))
					layout.Images = append(layout.Images, img)
				}
				return
			case "p":
				if block, ok := textBlock(n, style); ok {
					layout.Blocks = append(layout.Blocks, block)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	sort.SliceStable(layout.Blocks, func(i, j int) bool {
		return readingOrder(layout.Blocks[i].Box, layout.Blocks[j].Box)
	})
	sort.SliceStable(layout.Images, func(i, j int) bool {
		return readingOrder(layout.Images[i].Box, layout.Images[j].Box)
	})
	for i := range layout.Images {
		layout.Images[i].Index = i + 1
	}
	return layout, nil
}

// ImageRects returns the boxes of every image on the page.
func (l *PageLayout) ImageRects() []Rect {
	out := make([]Rect, len(l.Images))
	for i, img := range l.Images {
		out[i] = img.Box
	}
	return out
}

// PlainText joins the page's text blocks line by line.
func (l *PageLayout) PlainText() string {
	lines := make([]string, 0, len(l.Blocks))
	for _, b := range l.Blocks {
		lines = append(lines, b.Text)
	}
	return strings.Join(lines, "\n")
}

func readingOrder(a, b Rect) bool {
	if a.Y0 != b.Y0 {
		return a.Y0 < b.Y0
	}
	return a.X0 < b.X0
}

func textBlock(n *html.Node, style cssStyle) (TextBlock, bool) {
	top, okT := style.points("top")
	left, okL := style.points("left")
	if !okT || !okL {
		return TextBlock{}, false
	}

	var sb strings.Builder
	fontSize := 0.0
	var collect func(c *html.Node)
	collect = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			sb.WriteString(c.Data)
		case html.ElementNode:
			if c.Data == "br" {
				sb.WriteByte(' ')
			}
			if fontSize == 0 {
				if fs, ok := parseStyle(attr(c, "style")).points("font-size"); ok {
					fontSize = fs
				}
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			collect(cc)
		}
	}
	collect(n)

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return TextBlock{}, false
	}
	if fontSize == 0 {
		if fs, ok := style.points("font-size"); ok {
			fontSize = fs
		} else {
			fontSize = defaultFontSize
		}
	}

	height, ok := style.points("line-height")
	if !ok {
		height, ok = style.points("height")
	}
	if !ok {
		height = fontSize * 1.2
	}
	width, ok := style.points("width")
	if !ok {
		width = float64(utf8.RuneCountInString(text)) * fontSize * glyphAdvance
	}

	return TextBlock{
		Text:     text,
		Box:      RectXYWH(left, top, width, height),
		FontSize: fontSize,
	}, true
}

type cssStyle map[string]string

func parseStyle(s string) cssStyle {
	out := cssStyle{}
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

// points parses a length in pt (or unitless/px, treated as pt).
func (s cssStyle) points(key string) (float64, bool) {
	v, ok := s[key]
	if !ok {
		return 0, false
	}
	v = strings.TrimSuffix(strings.TrimSuffix(v, "pt"), "px")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (s cssStyle) box() (Rect, bool) {
	top, ok1 := s.points("top")
	left, ok2 := s.points("left")
	w, ok3 := s.points("width")
	h, ok4 := s.points("height")
	if !(ok1 && ok2 && ok3 && ok4) {
		return Rect{}, false
	}
	return RectXYWH(left, top, w, h), true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func decodeDataURI(src string) ([]byte, string) {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return nil, ""
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, ""
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ""
	}
	return data, strings.TrimSuffix(meta, ";base64")
}
