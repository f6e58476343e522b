// Package urlnorm 计算文章 URL 的规范形式（去重与缓存的唯一键），并从正文中提取外链。
package urlnorm

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// 常见的追踪参数，另外所有 utm_ 前缀的参数也会被去掉
var trackingParams = map[string]struct{}{
	"ref":     {},
	"ref_src": {},
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"_hsenc":  {},
	"_hsmi":   {},
	"yclid":   {},
	"msclkid": {},
	"spm":     {},
}

func isTrackingParam(name string) bool {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, "utm_") {
		return true
	}
	_, ok := trackingParams[name]
	return ok
}

// Normalize 返回 URL 的规范形式：强制 https、去掉 www. 前缀、追踪参数、
// 末尾斜杠（根路径除外）与 fragment。无法解析的输入原样（去空白）返回。
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = "https"
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.ForceQuery = false

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if isTrackingParam(k) {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// Key 是 Normalize 的别名，用于强调它作为去重 / 缓存键的用途
func Key(raw string) string {
	return Normalize(raw)
}

// Hash 由规范 URL 生成一个稳定的合成 ID（源没有原生 ID 时使用）
func Hash(raw string) string {
	h := sha1.New()
	h.Write([]byte(Normalize(raw)))
	return hex.EncodeToString(h.Sum(nil))
}

var (
	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\((https?://[^)\s]+)\)`)
	attrLinkRe     = regexp.MustCompile(`(?i)\b(?:href|src)\s*=\s*["'](https?://[^"']+)["']`)
	bareLinkRe     = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)
)

// ExtractLinks 从文本中提取外链，支持 markdown 链接、href/src 属性与裸 URL。
// 结果经过 Normalize 并去重，按在文本中首次出现的位置排序。
func ExtractLinks(text string) []string {
	if text == "" {
		return nil
	}

	type match struct {
		start, end int
		raw        string
	}
	var matches []match
	for _, re := range []*regexp.Regexp{markdownLinkRe, attrLinkRe} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			matches = append(matches, match{start: m[0], end: m[1], raw: text[m[2]:m[3]]})
		}
	}
	structured := len(matches)
	for _, m := range bareLinkRe.FindAllStringIndex(text, -1) {
		// 已被 markdown / 属性形式覆盖的 URL 不再单独计入
		covered := false
		for _, s := range matches[:structured] {
			if m[0] >= s.start && m[1] <= s.end {
				covered = true
				break
			}
		}
		if !covered {
			matches = append(matches, match{start: m[0], end: m[1], raw: text[m[0]:m[1]]})
		}
	}
	slices.SortStableFunc(matches, func(a, b match) int { return a.start - b.start })

	var out []string
	seen := make(map[string]struct{})
	for _, m := range matches {
		n := Normalize(strings.TrimRight(m.raw, ".,;:!?"))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
