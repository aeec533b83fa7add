package content

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fmDelim = "---"

var errUnterminated = errors.New("unterminated frontmatter")

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// frontMatter is the decoded metadata block of a content file.
type frontMatter struct {
	Title       string
	Description string
	Slug        string
	URL         string
	Summary     string
	Date        time.Time
	Lastmod     time.Time
	Draft       bool
	Weight      int
	Tags        []string
	Outputs     []string
	Params      map[string]any
}

// knownKeys are lifted into frontMatter fields. Everything else lands in
// Params.
var knownKeys = map[string]bool{
	"title": true, "description": true, "slug": true, "url": true,
	"summary": true, "date": true, "lastmod": true, "draft": true,
	"weight": true, "tags": true, "outputs": true, "params": true,
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// body. Files without one have an empty block.
func splitFrontMatter(src string) (block, body string, err error) {
	src = strings.TrimPrefix(src, "\ufeff")
	src = strings.ReplaceAll(src, "\r\n", "\n")
	first, rest, _ := strings.Cut(src, "\n")
	if strings.TrimRight(first, " \t") != fmDelim {
		return "", src, nil
	}
	offset := 0
	for _, line := range strings.SplitAfter(rest, "\n") {
		if strings.TrimRight(line, " \t\n") == fmDelim {
			return rest[:offset], rest[offset+len(line):], nil
		}
		offset += len(line)
	}
	return "", "", errUnterminated
}

// parseFrontMatter decodes block into a frontMatter.
func parseFrontMatter(block string) (frontMatter, error) {
	fm := frontMatter{Params: map[string]any{}}
	if strings.TrimSpace(block) == "" {
		return fm, nil
	}
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return fm, fmt.Errorf("invalid frontmatter: %w", err)
	}

	var err error
	fm.Title = stringValue(raw["title"])
	fm.Description = stringValue(raw["description"])
	fm.Slug = stringValue(raw["slug"])
	fm.URL = stringValue(raw["url"])
	fm.Summary = stringValue(raw["summary"])
	fm.Draft = boolValue(raw["draft"])
	fm.Tags = stringList(raw["tags"])
	fm.Outputs = stringList(raw["outputs"])
	if fm.Date, err = timeValue(raw["date"]); err != nil {
		return fm, fmt.Errorf("date: %w", err)
	}
	if fm.Lastmod, err = timeValue(raw["lastmod"]); err != nil {
		return fm, fmt.Errorf("lastmod: %w", err)
	}
	if fm.Weight, err = intValue(raw["weight"]); err != nil {
		return fm, fmt.Errorf("weight: %w", err)
	}

	if nested, ok := raw["params"].(map[string]any); ok {
		for k, v := range nested {
			fm.Params[k] = v
		}
	}
	for k, v := range raw {
		if !knownKeys[k] {
			fm.Params[k] = v
		}
	}
	return fm, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func boolValue(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	}
	return false
}

// stringList accepts a YAML sequence or a comma separated string.
func stringList(v any) []string {
	var out []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s := strings.TrimSpace(stringValue(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(x, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func timeValue(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case string:
		if strings.TrimSpace(x) == "" {
			return time.Time{}, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q", x)
	default:
		return time.Time{}, fmt.Errorf("unexpected %T", v)
	}
}

func intValue(v any) (int, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return x, nil
	case float64:
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
