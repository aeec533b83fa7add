package shortcode

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	youtubeIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)
	vimeoIDRE   = regexp.MustCompile(`^[0-9]{1,12}$`)

	calloutTypes = map[string]bool{"note": true, "tip": true, "info": true, "warning": true, "danger": true}
)

func contentBuiltins() []Definition {
	return []Definition{
		{Name: "callout", Kind: KindContent, BodyRequired: true, Render: func(inv *Invocation) (string, error) {
			kind := strings.ToLower(inv.Get("type", 0))
			if kind == "" {
				kind = "note"
			}
			if !calloutTypes[kind] {
				return "", fmt.Errorf("unknown callout type %q", kind)
			}
			return callout(inv.Get("title", 1), kind, inv.Inner), nil
		}},
		{Name: "note", Kind: KindContent, BodyRequired: true, Render: func(inv *Invocation) (string, error) {
			return callout(inv.Get("title", 0), "note", inv.Inner), nil
		}},
		{Name: "warning", Kind: KindContent, BodyRequired: true, Render: func(inv *Invocation) (string, error) {
			return callout(inv.Get("title", 0), "warning", inv.Inner), nil
		}},
		{Name: "quote", Kind: KindContent, BodyRequired: true, Render: quote},
		{Name: "checklist", Kind: KindContent, BodyRequired: true, Render: checklist},
	}
}

func (p *Pipeline) htmlBuiltins() []Definition {
	return []Definition{
		{Name: "youtube", Kind: KindHTML, Render: youtube},
		{Name: "vimeo", Kind: KindHTML, Render: vimeo},
		{Name: "button", Kind: KindHTML, Render: button},
		{Name: "figure", Kind: KindHTML, Render: figure},
		{Name: "gallery", Kind: KindHTML, BodyRequired: true, Render: gallery},
		{Name: "details", Kind: KindHTML, BodyRequired: true, Render: p.details},
	}
}

// blockquote prefixes every line of body with "> ".
func blockquote(body string) string {
	lines := strings.Split(strings.Trim(body, "\n"), "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + l
		}
	}
	return strings.Join(lines, "\n")
}

func callout(title, kind, body string) string {
	if title == "" {
		title = cases.Title(language.Und).String(kind)
	}
	return "> **" + title + "**\n>\n" + blockquote(body) + "\n"
}

func quote(inv *Invocation) (string, error) {
	out := blockquote(inv.Inner)
	author, source := inv.Get("author", 0), inv.Get("source", 1)
	switch {
	case author != "" && source != "":
		out += "\n>\n> — [" + author + "](" + source + ")"
	case author != "":
		out += "\n>\n> — " + author
	case source != "":
		out += "\n>\n> — <" + source + ">"
	}
	return out + "\n", nil
}

// checklist turns each line of the body into a task list item. Lines
// starting with "x " or "[x] " are checked.
func checklist(inv *Invocation) (string, error) {
	var b strings.Builder
	for _, line := range strings.Split(inv.Inner, "\n") {
		item := strings.TrimSpace(line)
		item = strings.TrimSpace(strings.TrimLeft(item, "-*"))
		if item == "" {
			continue
		}
		mark := " "
		for _, prefix := range []string{"[x] ", "[X] ", "x ", "X "} {
			if rest, ok := strings.CutPrefix(item, prefix); ok {
				mark, item = "x", strings.TrimSpace(rest)
				break
			}
		}
		item = strings.TrimPrefix(item, "[ ] ")
		fmt.Fprintf(&b, "- [%s] %s\n", mark, item)
	}
	if b.Len() == 0 {
		return "", errors.New("checklist has no items")
	}
	return b.String(), nil
}

func embed(class, src, title string) string {
	return fmt.Sprintf(`<div class="embed %s"><iframe src="%s" title="%s" loading="lazy" allow="autoplay; encrypted-media; picture-in-picture" allowfullscreen></iframe></div>`,
		class, html.EscapeString(src), html.EscapeString(title))
}

func youtube(inv *Invocation) (string, error) {
	id := inv.Get("id", 0)
	if !youtubeIDRE.MatchString(id) {
		return "", fmt.Errorf("invalid video id %q", id)
	}
	src := "https://www.youtube-nocookie.com/embed/" + id
	if start := inv.Get("start", 1); start != "" {
		if _, err := strconv.Atoi(start); err != nil {
			return "", fmt.Errorf("invalid start %q", start)
		}
		src += "?start=" + start
	}
	title := inv.Get("title", -1)
	if title == "" {
		title = "YouTube video"
	}
	return embed("embed-youtube", src, title), nil
}

func vimeo(inv *Invocation) (string, error) {
	id := inv.Get("id", 0)
	if !vimeoIDRE.MatchString(id) {
		return "", fmt.Errorf("invalid video id %q", id)
	}
	title := inv.Get("title", -1)
	if title == "" {
		title = "Vimeo video"
	}
	return embed("embed-vimeo", "https://player.vimeo.com/video/"+id, title), nil
}

// safeURL rejects URLs with schemes other than http, https and mailto.
func safeURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto":
		return u, nil
	default:
		return nil, fmt.Errorf("unsafe url scheme %q", u.Scheme)
	}
}

func button(inv *Invocation) (string, error) {
	href := inv.Get("href", 0)
	if href == "" {
		return "", errors.New("href is required")
	}
	u, err := safeURL(href)
	if err != nil {
		return "", err
	}
	label := inv.Get("label", 1)
	if label == "" {
		label = strings.TrimSpace(inv.Inner)
	}
	if label == "" {
		label = href
	}
	style := inv.Get("style", -1)
	if style == "" {
		style = "primary"
	}
	rel := ""
	if u.IsAbs() {
		rel = ` target="_blank" rel="noopener noreferrer"`
	}
	return fmt.Sprintf(`<a class="button button-%s" href="%s"%s>%s</a>`,
		html.EscapeString(style), html.EscapeString(u.String()), rel, html.EscapeString(label)), nil
}

func figureHTML(src, alt, caption, extra string) string {
	var b strings.Builder
	b.WriteString(`<figure><img src="`)
	b.WriteString(html.EscapeString(src))
	b.WriteString(`" alt="`)
	b.WriteString(html.EscapeString(alt))
	b.WriteString(`"`)
	b.WriteString(extra)
	b.WriteString(` loading="lazy">`)
	if caption != "" {
		b.WriteString("<figcaption>")
		b.WriteString(html.EscapeString(caption))
		b.WriteString("</figcaption>")
	}
	b.WriteString("</figure>")
	return b.String()
}

func figure(inv *Invocation) (string, error) {
	src := inv.Get("src", 0)
	if src == "" {
		return "", errors.New("src is required")
	}
	if _, err := safeURL(src); err != nil {
		return "", err
	}
	caption := inv.Get("caption", 1)
	if caption == "" {
		caption = strings.TrimSpace(inv.Inner)
	}
	alt := inv.Get("alt", -1)
	if alt == "" {
		alt = caption
	}
	var extra string
	for _, dim := range []string{"width", "height"} {
		if v := inv.Get(dim, -1); v != "" {
			if _, err := strconv.Atoi(v); err != nil {
				return "", fmt.Errorf("invalid %s %q", dim, v)
			}
			extra += fmt.Sprintf(` %s="%s"`, dim, v)
		}
	}
	return figureHTML(src, alt, caption, extra), nil
}

// gallery renders one figure per body line of the form "src" or
// "src | caption".
func gallery(inv *Invocation) (string, error) {
	columns := 3
	if v := inv.Get("columns", 0); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 12 {
			return "", fmt.Errorf("invalid columns %q", v)
		}
		columns = n
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="gallery" style="--columns: %d">`, columns)
	count := 0
	for _, line := range strings.Split(inv.Inner, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "<p>" || line == "</p>" {
			continue
		}
		src, caption, _ := strings.Cut(line, "|")
		src, caption = strings.TrimSpace(src), strings.TrimSpace(caption)
		if _, err := safeURL(src); err != nil {
			return "", err
		}
		b.WriteString(figureHTML(src, caption, caption, ""))
		count++
	}
	if count == 0 {
		return "", errors.New("gallery has no images")
	}
	b.WriteString("</div>")
	return b.String(), nil
}

// details wraps the body in a disclosure element. The body is Markdown and
// is converted when the pipeline has a converter.
func (p *Pipeline) details(inv *Invocation) (string, error) {
	summary := inv.Get("summary", 0)
	if summary == "" {
		summary = "Details"
	}
	body := strings.TrimSpace(inv.Inner)
	if p.markdown != nil {
		converted, err := p.markdown.Convert(body)
		if err != nil {
			return "", err
		}
		body = strings.TrimSpace(converted)
	}
	open := ""
	if inv.Bool("open") {
		open = " open"
	}
	return fmt.Sprintf("<details%s><summary>%s</summary>\n%s\n</details>", open, html.EscapeString(summary), body), nil
}
