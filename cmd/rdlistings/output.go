package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr receives all status output; stdout is reserved for results.
var (
	stderr   io.Writer = os.Stderr
	stderrMu sync.Mutex
)

// emit writes one status line. Batch runs print from several goroutines.
func emit(line string) {
	stderrMu.Lock()
	defer stderrMu.Unlock()
	fmt.Fprintln(stderr, line)
}

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	emit(fmt.Sprintf("  %s %s", l, val))
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	emit(colorize(colorCyan, "→ "+msg))
}

// printCounts prints a count map as indented status lines, largest first.
func printCounts(w io.Writer, title string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(w, "%s:\n", colorize(colorBold, title))
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[k])
	}
}
