package common

import (
	"fmt"
	"strings"
)

// DefaultWidth is the width of CLI report rules.
const DefaultWidth = 80

func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a title framed by "=" rules, preceded by a blank line.
func PrintHeader(title string, width int) {
	fmt.Println()
	PrintSeparator("=", width)
	fmt.Println(title)
	PrintSeparator("=", width)
}

func PrintFooter(message string, width int) {
	fmt.Println()
	PrintSeparator("=", width)
	fmt.Println(message)
	PrintSeparator("=", width)
	fmt.Println()
}

// PrintBoxSeparator opens a boxed sub-section.
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// PrintField prints an aligned "label: value" line.
func PrintField(label string, value any) {
	fmt.Printf("%-14s %v\n", label+":", value)
}

func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix indents continuation lines under a BoxPrefix item.
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}
