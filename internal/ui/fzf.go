// Package ui holds the terminal front end: fzf pickers for choosing titles
// and a bubbletea view for controlling a running playback session.
//
// Items reach fzf as plain text on stdin. No preview command or other shell
// evaluated string ever carries remote data.
package ui

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrCancelled is returned when the user dismisses a picker.
var ErrCancelled = errors.New("selection cancelled")

// fzfRunner runs fzf with args, feeding it stdin, and returns stdout.
// Tests replace it.
var fzfRunner = func(args []string, stdin string) (string, error) {
	bin, err := exec.LookPath("fzf")
	if err != nil {
		return "", fmt.Errorf("fzf not found in PATH: %w", err)
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stderr = os.Stderr
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err = cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 130 {
		return "", ErrCancelled
	}
	return stdout.String(), err
}

// Select shows items in fzf and returns the index of the chosen one.
func Select(prompt string, items []string) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select from")
	}

	out, err := fzfRunner([]string{
		"--prompt", prompt + " > ",
		"--height", "40%",
		"--reverse",
		"--with-nth", "2..",
		"--delimiter", "\t",
		"--no-multi",
		"--cycle",
	}, numbered(items))
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return -1, err
		}
		return -1, fmt.Errorf("fzf failed: %w", err)
	}
	return parseSelection(out, len(items))
}

// Confirm asks a yes/no question.
func Confirm(prompt string) (bool, error) {
	idx, err := Select(prompt, []string{"Yes", "No"})
	if err != nil {
		return false, err
	}
	return idx == 0, nil
}

// Input reads one line of free text using fzf's --print-query.
func Input(prompt string) (string, error) {
	// fzf exits 1 with --print-query and no match, so only a cancel counts.
	out, err := fzfRunner([]string{
		"--prompt", prompt + " > ",
		"--height", "10%",
		"--reverse",
		"--print-query",
		"--no-info",
	}, "")
	if errors.Is(err, ErrCancelled) {
		return "", err
	}

	query, _, _ := strings.Cut(out, "\n")
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("no input provided")
	}
	return query, nil
}

// numbered prefixes every item with its index and a tab, so the selection
// maps back to a position even when two items render the same.
func numbered(items []string) string {
	var b strings.Builder
	for i, item := range items {
		item = strings.NewReplacer("\t", " ", "\n", " ").Replace(item)
		b.WriteString(strconv.Itoa(i))
		b.WriteByte('\t')
		b.WriteString(item)
		b.WriteByte('\n')
	}
	return b.String()
}

func parseSelection(out string, n int) (int, error) {
	line := strings.TrimSpace(out)
	if line == "" {
		return -1, ErrCancelled
	}
	field, _, _ := strings.Cut(line, "\t")
	idx, err := strconv.Atoi(field)
	if err != nil {
		return -1, fmt.Errorf("parsing selection index: %w", err)
	}
	if idx < 0 || idx >= n {
		return -1, fmt.Errorf("selection index %d out of range", idx)
	}
	return idx, nil
}
