package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// 句末标点后可能紧跟的闭合符号，归入同一句
const closers = "\"'”’」』）)]】"

// SplitSentences 将文本切分为句子
// 以 。！？!?； 以及换行作为句子边界，英文句点仅在非小数点、非缩写场景下断句。
// 返回的句子去除首尾空白，拼接后（忽略空白）与原文一致。
func SplitSentences(text string) []string {
	runes := []rune(text)
	sentences := make([]string, 0, len(runes)/40+1)
	start := 0

	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n':
			flush(i + 1)
		case isTerminator(r, runes, i):
			end := i + 1
			// 连续标点（如 ?! 或 。”）并入当前句
			for end < len(runes) && (isTerminalPunct(runes[end]) || strings.ContainsRune(closers, runes[end])) {
				end++
			}
			i = end - 1
			flush(end)
		}
	}
	flush(len(runes))
	return sentences
}

func isTerminalPunct(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '；', ';':
		return true
	}
	return false
}

func isTerminator(r rune, runes []rune, i int) bool {
	if isTerminalPunct(r) {
		return true
	}
	if r != '.' {
		return false
	}
	// 小数点：4.5 mm/s
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}
	// 句点后必须是空白或文本结尾，避免切开 e.g. / ISO10816.3 一类写法
	if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) && !strings.ContainsRune(closers, runes[i+1]) {
		return false
	}
	return true
}

// joinSentence 拼接句子，英文句子间补一个空格
func joinSentence(current, next string) string {
	if current == "" {
		return next
	}
	last, _ := utf8.DecodeLastRuneInString(current)
	first, _ := utf8.DecodeRuneInString(next)
	if last < utf8.RuneSelf && first < utf8.RuneSelf {
		return current + " " + next
	}
	return current + next
}

// stripSpace 去掉所有空白，用于比较内容是否一致
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
