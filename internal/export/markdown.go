// Package export post-processes enriched markdown: page sections, image
// tags, page removal and archive export.
package export

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Divider separates page sections. A document of N pages has exactly N-1.
const Divider = "\n\n---\n\n"

var (
	imageTagLine = regexp.MustCompile(`^\[IMAGE:([^\]]+)\]$`)
	pageHeading  = regexp.MustCompile(`^## Page (\d+)$`)
)

// ImageTag renders the placeholder line for an image reference.
func ImageTag(ref string) string {
	return "[IMAGE:" + ref + "]"
}

// CountImageTags counts image tag lines in md.
func CountImageTags(md string) int {
	n := 0
	for _, line := range strings.Split(md, "\n") {
		if imageTagLine.MatchString(strings.TrimSpace(line)) {
			n++
		}
	}
	return n
}

// Section renders one page section: the heading, then the body when non-empty.
// Body lines that are exactly "---" are rewritten to "- - -" so they can never
// be mistaken for a page divider.
func Section(page int, body string) string {
	heading := fmt.Sprintf("## Page %d", page)
	body = strings.TrimSpace(sanitizeBody(body))
	if body == "" {
		return heading
	}
	return heading + "\n\n" + body
}

func sanitizeBody(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "---" {
			lines[i] = "- - -"
		}
	}
	return strings.Join(lines, "\n")
}

// Join assembles a document from its preamble and page sections.
func Join(preamble string, sections []string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(preamble, "\n"))
	if len(sections) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.Join(sections, Divider))
	}
	sb.WriteString("\n")
	return sb.String()
}

// Split breaks a document back into its preamble and page sections.
func Split(md string) (string, []string) {
	md = strings.TrimRight(md, "\n")
	parts := strings.Split(md, Divider)
	first := parts[0]
	idx := strings.Index(first, "\n\n## Page ")
	if idx < 0 {
		if strings.HasPrefix(first, "## Page ") {
			return "", parts
		}
		return first, parts[1:]
	}
	sections := append([]string{first[idx+2:]}, parts[1:]...)
	return first[:idx], sections
}

// SectionPage returns the page number of a section, or 0 when it has no heading.
func SectionPage(section string) int {
	heading, _, _ := strings.Cut(section, "\n")
	m := pageHeading.FindStringSubmatch(strings.TrimSpace(heading))
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// RemovePages drops the sections of the given pages and re-joins the rest
// with the page divider. It returns the pages that were actually removed, in
// ascending order. Headers and footers stripped during assembly stay gone.
func RemovePages(md string, pages []int) (string, []int) {
	drop := make(map[int]bool, len(pages))
	for _, p := range pages {
		drop[p] = true
	}

	preamble, sections := Split(md)
	kept := make([]string, 0, len(sections))
	var removed []int
	for _, s := range sections {
		if n := SectionPage(s); n > 0 && drop[n] {
			removed = append(removed, n)
			continue
		}
		kept = append(kept, s)
	}
	if len(removed) == 0 {
		return md, nil
	}
	sort.Ints(removed)
	return Join(preamble, kept), removed
}

// ConvertImageTags rewrites every image tag line into an HTML <img> pointing
// at base. Runs of consecutive tag lines are wrapped in a flex row and share
// the width, up to four per row.
func ConvertImageTags(md, base string) string {
	base = strings.TrimRight(base, "/")
	trailing := strings.HasSuffix(md, "\n")
	lines := strings.Split(strings.TrimSuffix(md, "\n"), "\n")

	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); {
		ref, ok := tagRef(lines[i])
		if !ok {
			out = append(out, lines[i])
			i++
			continue
		}
		refs := []string{ref}
		for i++; i < len(lines); i++ {
			next, ok := tagRef(lines[i])
			if !ok {
				break
			}
			refs = append(refs, next)
		}

		width := imageWidth(len(refs))
		if len(refs) > 1 {
			out = append(out, `<div style="display:flex;flex-wrap:wrap;gap:8px;margin:8px 0;">`)
		}
		for _, r := range refs {
			out = append(out, fmt.Sprintf(`<img src="%s/%s" style="%s;border-radius:8px;margin:8px 0;">`, base, escapeRef(r), width))
		}
		if len(refs) > 1 {
			out = append(out, "</div>")
		}
	}

	result := strings.Join(out, "\n")
	if trailing {
		result += "\n"
	}
	return result
}

// escapeRef path-escapes each segment of an image reference.
func escapeRef(ref string) string {
	segs := strings.Split(ref, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

func tagRef(line string) (string, bool) {
	m := imageTagLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func imageWidth(n int) string {
	switch n {
	case 1:
		return "max-width:100%"
	case 2:
		return "max-width:calc(50% - 4px)"
	case 3:
		return "max-width:calc(33% - 6px)"
	default:
		return "max-width:calc(25% - 6px)"
	}
}
