package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// TestingT is an interface that matches the methods we need from testing.T
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type OutputAssertOptions struct {
	TrimSpace        bool     `default:"true"`
	IgnoreEmptyLines bool     `default:"false"`
	EnableColors     bool     `default:"false"`
	IgnoreExtraKeys  bool     `default:"false"`
	IgnoredFields    []string `default:"[]"`
}

// OutputOption is a functional option for configuring OutputAsserter
type OutputOption func(*OutputAssertOptions)

func WithTrimSpace(v bool) OutputOption {
	return func(o *OutputAssertOptions) { o.TrimSpace = v }
}

func WithIgnoreEmptyLines(v bool) OutputOption {
	return func(o *OutputAssertOptions) { o.IgnoreEmptyLines = v }
}

func WithColors(v bool) OutputOption {
	return func(o *OutputAssertOptions) { o.EnableColors = v }
}

// WithIgnoreExtraKeys drops object keys from the actual JSON that the
// expected JSON does not mention.
func WithIgnoreExtraKeys(v bool) OutputOption {
	return func(o *OutputAssertOptions) { o.IgnoreExtraKeys = v }
}

// WithIgnoredFields removes the named keys at any depth before comparing JSON.
func WithIgnoredFields(fields ...string) OutputOption {
	return func(o *OutputAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// OutputAsserter compares command output against expectations, reporting
// a unified diff for text and a structural diff for JSON.
type OutputAsserter struct {
	t       TestingT
	options OutputAssertOptions
}

func NewOutputAsserter(t TestingT, opts ...OutputOption) *OutputAsserter {
	options := OutputAssertOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}
	return &OutputAsserter{t: t, options: options}
}

func (a *OutputAsserter) Options() OutputAssertOptions {
	return a.options
}

// AssertText compares line-oriented output.
func (a *OutputAsserter) AssertText(actual, expected string) bool {
	if diff := a.TextDiff(actual, expected); diff != "" {
		a.t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// AssertJSON compares two JSON documents structurally.
func (a *OutputAsserter) AssertJSON(actual, expected string) bool {
	if diff := a.JSONDiff(actual, expected); diff != "" {
		a.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// TextDiff returns "" when the normalized texts match.
func (a *OutputAsserter) TextDiff(actual, expected string) string {
	normalizedActual := a.normalize(actual)
	normalizedExpected := a.normalize(expected)
	if normalizedActual == normalizedExpected {
		return ""
	}

	edits := myers.ComputeEdits("", normalizedExpected, normalizedActual)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", normalizedExpected, edits))
	if !a.options.EnableColors {
		return unified
	}
	return colorize(unified)
}

func (a *OutputAsserter) normalize(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if a.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}

	result := strings.Join(out, "\n")
	if a.options.TrimSpace {
		result = strings.TrimSpace(result)
	}
	return result + "\n"
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}

// JSONDiff returns "" when the documents match after applying the options.
func (a *OutputAsserter) JSONDiff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root.
	if _, ok := expected.([]interface{}); ok {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	for _, field := range a.options.IgnoredFields {
		removeField(expected, field)
		removeField(actual, field)
	}
	if a.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       a.options.EnableColors,
	})
	out, _ := f.Format(diff)
	return out
}

func removeField(v interface{}, field string) {
	switch node := v.(type) {
	case map[string]interface{}:
		delete(node, field)
		for _, child := range node {
			removeField(child, field)
		}
	case []interface{}:
		for _, child := range node {
			removeField(child, field)
		}
	}
}

func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
				continue
			}
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
