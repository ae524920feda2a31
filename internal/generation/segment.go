package generation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"cmsreport/internal/rag"
)

// 编号或符号项目：1. 1、 1) 1） (1) （1） - * • ·
var bulletPattern = regexp.MustCompile(`^\s*(?:\d{1,2}[.、)）]|[（(]\d{1,2}[)）]|[-*•·])\s*`)

// bulletPrefix 返回行首项目符号的长度，不是项目行返回 -1
// "4.5 mm/s" 这类小数开头的行不算编号。
func bulletPrefix(line string) int {
	loc := bulletPattern.FindStringIndex(line)
	if loc == nil {
		return -1
	}
	marker := strings.TrimSpace(line[:loc[1]])
	rest := line[loc[1]:]
	if strings.HasSuffix(marker, ".") && loc[1] == len(strings.TrimRightFunc(line[:loc[1]], unicode.IsSpace)) {
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsDigit(r) {
			return -1
		}
	}
	return loc[1]
}

// Segment 将生成文本切分为独立结论
// 有项目符号时每个项目一条，续行并入上一项，首个项目前的引导语丢弃；
// 没有项目符号时按空行分段，只有一段时按句切分。
func Segment(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "**", "")
	lines := strings.Split(text, "\n")

	var items []string
	var cur strings.Builder
	hasBullets := false
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && !isHeading(s) {
			items = append(items, s)
		}
		cur.Reset()
	}

	for _, line := range lines {
		if n := bulletPrefix(line); n >= 0 {
			if hasBullets {
				flush()
			}
			cur.Reset()
			hasBullets = true
			cur.WriteString(strings.TrimSpace(line[n:]))
			continue
		}
		if !hasBullets {
			continue
		}
		if t := strings.TrimSpace(line); t != "" {
			cur.WriteString(t)
		}
	}
	if hasBullets {
		flush()
		return items
	}

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(strings.ReplaceAll(p, "\n", "")); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) > 1 {
		return paragraphs
	}
	if len(paragraphs) == 0 {
		return nil
	}
	var sentences []string
	for _, s := range rag.SplitSentences(paragraphs[0]) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// isHeading 只有标题没有内容的项，如 "诊断结论："
func isHeading(s string) bool {
	return strings.HasSuffix(s, "：") || strings.HasSuffix(s, ":")
}
