// internal/llm/json.go
package llm

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	codeBlockRegex = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fenceReplacer  = strings.NewReplacer("```json", "", "```", "")
)

// CleanJSON extracts the JSON payload from a model response. A ```json fenced block
// wins; otherwise the first object or array is cut out by bracket matching. Returns
// "{}" when nothing JSON-like is found.
func CleanJSON(text string) string {
	if strings.TrimSpace(text) == "" {
		return "{}"
	}

	if match := codeBlockRegex.FindStringSubmatch(text); len(match) > 1 && strings.TrimSpace(match[1]) != "" {
		return strings.TrimSpace(match[1])
	}

	clean := strings.TrimSpace(fenceReplacer.Replace(text))

	// 移除零宽字符
	clean = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, clean)

	start := strings.IndexAny(clean, "{[")
	if start == -1 {
		return "{}"
	}
	clean = clean[start:]

	open, close := byte('{'), byte('}')
	if clean[0] == '[' {
		open, close = '[', ']'
	}

	// 简单的括号计数匹配
	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(clean); i++ {
		char := clean[i]

		if escaped {
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case open:
			balance++
		case close:
			balance--
			if balance == 0 {
				return clean[:i+1]
			}
		}
	}

	// 没有匹配的结束符时退回到最后一个
	if end := strings.LastIndexByte(clean, close); end > 0 {
		return clean[:end+1]
	}
	return "{}"
}

// IsEmptyJSON reports whether a cleaned payload carries no data.
func IsEmptyJSON(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "{}"
}
