package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
)

const (
	outputHuman      = "human"
	outputJSON       = "json"
	outputJSONPretty = "json-pretty"
)

var (
	headerColor = color.New(color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed, color.Bold)
	subtleColor = color.New(color.Faint)
)

func validOutput(mode string) error {
	switch mode {
	case outputHuman, outputJSON, outputJSONPretty:
		return nil
	}
	return fmt.Errorf("unknown output format %q, expected human, json or json-pretty", mode)
}

func isJSON(mode string) bool {
	return mode == outputJSON || mode == outputJSONPretty
}

// writeJSON encodes v in the requested JSON flavor
func writeJSON(w io.Writer, mode string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	if mode == outputJSONPretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// table prints rows with padded columns
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(w, headerColor.Sprint(line(header)))
	for _, row := range rows {
		fmt.Fprintln(w, line(row))
	}
}
