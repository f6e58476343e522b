// Package proxytext 定义远程抓取代理返回的 markdown 风格文本协议。
//
// 协议版本 1 的格式：
//
//	# Feed: <标题>
//	<!-- proxytext v1 -->
//
//	## Entry 1
//	Title: <标题>
//	Link: <链接>
//	Published: <RFC3339 / RFC1123 时间>
//	Summary: <摘要，可跨多行>
//
// 字段名大小写不敏感，允许 "**Title:**"、"- Title:" 等写法；缺少 Title 或 Link 的条目会被丢弃。
// 解析器与参考代理（cmd/fetch-proxy）共享本包，格式变化时需要同时提升 Version。
package proxytext

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const Version = "1"

// Entry 文本中的一个条目
type Entry struct {
	Title     string
	Link      string
	Published time.Time
	Summary   string
}

var (
	entryHeaderRe = regexp.MustCompile(`(?mi)^\s*##\s*Entry\s+\d+\s*$`)
	fieldRe       = regexp.MustCompile(`(?i)^\s*(?:[-*]\s+)?\**\s*(Title|Link|Published|Summary)\s*\**\s*:\s*\**\s*(.*?)\s*$`)
	mdLinkRe      = regexp.MustCompile(`^\[[^\]]*\]\((\S+?)\)$`)
	versionRe     = regexp.MustCompile(`<!--\s*proxytext\s+v(\d+)\s*-->`)
)

var publishedLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DetectVersion 返回文本声明的协议版本，没有声明时按 Version 处理
func DetectVersion(text string) string {
	if m := versionRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return Version
}

// Parse 解析文本中的所有条目
func Parse(text string) []Entry {
	locs := entryHeaderRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		e, ok := parseSection(text[loc[1]:end])
		if !ok {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func parseSection(section string) (Entry, bool) {
	var (
		e       Entry
		current string
		summary []string
	)
	for _, line := range strings.Split(section, "\n") {
		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			// 摘要可以跨多行
			if current == "summary" {
				if t := strings.TrimSpace(line); t != "" && t != "---" {
					summary = append(summary, t)
				}
			}
			continue
		}
		current = strings.ToLower(m[1])
		value := m[2]
		switch current {
		case "title":
			e.Title = value
		case "link":
			e.Link = unwrapLink(value)
		case "published":
			e.Published = parsePublished(value)
		case "summary":
			if value != "" {
				summary = append(summary, value)
			}
		}
	}
	e.Summary = strings.Join(summary, " ")
	if e.Title == "" || e.Link == "" {
		return Entry{}, false
	}
	return e, true
}

func unwrapLink(v string) string {
	v = strings.Trim(strings.TrimSpace(v), "<>")
	if m := mdLinkRe.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return v
}

func parsePublished(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Render 按协议版本 1 输出文本
func Render(title string, entries []Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Feed: %s\n", oneLine(title))
	fmt.Fprintf(&b, "<!-- proxytext v%s -->\n", Version)
	for i, e := range entries {
		fmt.Fprintf(&b, "\n## Entry %d\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", oneLine(e.Title))
		fmt.Fprintf(&b, "Link: %s\n", strings.TrimSpace(e.Link))
		if !e.Published.IsZero() {
			fmt.Fprintf(&b, "Published: %s\n", e.Published.UTC().Format(time.RFC3339))
		}
		if s := oneLine(e.Summary); s != "" {
			fmt.Fprintf(&b, "Summary: %s\n", s)
		}
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
