// cmd/atlas/table.go
package main

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const minColumnWidth = 3

// renderTable 按显示宽度对齐列（中日文字符占两列）；超出 maxWidth 时截断最后一列
func renderTable(headers []string, rows [][]string, maxWidth int) string {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = max(runewidth.StringWidth(header), minColumnWidth)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
		}
	}

	// 每列占用 "| " + 内容 + " "，最后加一个 "|"
	if maxWidth > 0 {
		used := 1
		for _, w := range widths[:len(widths)-1] {
			used += w + 3
		}
		last := len(widths) - 1
		if available := maxWidth - used - 3; widths[last] > available {
			widths[last] = max(available, minColumnWidth)
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for i, width := range widths {
			content := ""
			if i < len(cells) {
				content = runewidth.Truncate(cells[i], width, "…")
			}
			sb.WriteString(" " + content + strings.Repeat(" ", width-runewidth.StringWidth(content)) + " |")
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sb.WriteString("|")
	for _, width := range widths {
		sb.WriteString(strings.Repeat("-", width+2) + "|")
	}
	sb.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}

	return strings.TrimSuffix(sb.String(), "\n")
}
