package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Directive is one "key = value;" statement.
type Directive struct {
	Key   string
	Value string
	Line  int
}

// ParseDirectives reads "key = value;" statements, one per line. Blank lines
// and lines starting with '#' are skipped. Values may be double-quoted.
func ParseDirectives(r io.Reader) ([]Directive, error) {
	var out []Directive
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		body, ok := strings.CutSuffix(line, ";")
		if !ok {
			return nil, fmt.Errorf("line %d: missing ';'", lineNo)
		}
		key, value, ok := strings.Cut(body, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("line %d: bad key %q", lineNo, key)
		}
		if strings.HasPrefix(value, `"`) {
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad quoted value: %w", lineNo, err)
			}
			value = unquoted
		}
		out = append(out, Directive{Key: key, Value: value, Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read directives: %w", err)
	}
	return out, nil
}

// Apply sets configuration fields from directives. Numeric values are
// converted here so that the engine only ever sees typed values.
func (c *Config) Apply(directives []Directive) error {
	for _, d := range directives {
		var err error
		switch d.Key {
		case "minSegmentSize":
			c.Engine.MinSegmentSize, err = strconv.Atoi(d.Value)
		case "numWorkers":
			c.Engine.NumWorkers, err = strconv.Atoi(d.Value)
		case "byteOrder":
			c.Engine.ByteOrder = d.Value
		case "flowTimeout":
			c.Engine.FlowTimeout, err = durationValue(d.Value)
		case "reapInterval":
			c.Engine.ReapInterval, err = durationValue(d.Value)
		case "uplinkNetwork":
			c.Engine.UplinkNetworks = append(c.Engine.UplinkNetworks, d.Value)
		case "tcpTerminationLog":
			c.Sinks.TCPTermination = d.Value
		case "flashVideoLog":
			c.Sinks.FlashVideo = d.Value
		case "httpPageLog":
			c.Sinks.HTTPPage = d.Value
		case "httpRequestLog":
			c.Sinks.HTTPRequest = d.Value
		default:
			return fmt.Errorf("line %d: unknown key %q", d.Line, d.Key)
		}
		if err != nil {
			return fmt.Errorf("line %d: invalid value for %s: %w", d.Line, d.Key, err)
		}
	}
	return nil
}

// durationValue accepts either a Go duration or a bare number of seconds.
func durationValue(s string) (string, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(secs, 'f', -1, 64) + "s", nil
	}
	return s, nil
}
