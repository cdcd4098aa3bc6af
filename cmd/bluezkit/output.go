package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	headerColor = color.New(color.Bold)
	onColor     = color.New(color.FgGreen)
	offColor    = color.New(color.FgRed)
)

// writeStructured renders v as JSON or YAML. It reports false for "table",
// leaving the rendering to the caller.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(v)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return true, err
		}
		return true, encoder.Close()
	}
	return false, nil
}

func onOff(v bool) string {
	if v {
		return onColor.Sprint("yes")
	}
	return offColor.Sprint("no")
}

// valueWriter prints characteristic values as hex or raw bytes.
type valueWriter struct {
	out io.Writer
	hex bool
}

// newValueWriter picks hex output when forced or when out is a terminal,
// raw bytes when forced or when out is piped.
func newValueWriter(out io.Writer, forceHex, forceRaw bool) valueWriter {
	useHex := forceHex || (!forceRaw && isTerminal(out))
	return valueWriter{out: out, hex: useHex}
}

// write prints data, prefixed with "prefix: " when prefix is not empty.
func (v valueWriter) write(prefix string, data []byte) error {
	if prefix != "" {
		if _, err := fmt.Fprintf(v.out, "%s: ", prefix); err != nil {
			return err
		}
	}
	if v.hex {
		_, err := fmt.Fprintln(v.out, hex.EncodeToString(data))
		return err
	}
	if _, err := v.out.Write(data); err != nil {
		return err
	}
	if prefix != "" {
		_, err := fmt.Fprintln(v.out)
		return err
	}
	return nil
}
