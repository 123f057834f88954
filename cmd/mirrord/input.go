package main

import (
	"errors"
	"fmt"
	"strings"
)

var errMalformedLine = errors.New("malformed input line")

// change is one parsed input line: set key to value on the source named
// ident, or delete key when value is empty.
type change struct {
	ident string
	key   string
	value string
}

// parseLine parses "<identifier> <key>=<value>". Blank lines and lines
// starting with '#' yield ok=false and no error.
func parseLine(line string) (c change, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return change{}, false, nil
	}
	ident, assignment, found := strings.Cut(line, " ")
	if !found {
		return change{}, false, fmt.Errorf("%w: %q (want <identifier> <key>=<value>)", errMalformedLine, line)
	}
	key, value, found := strings.Cut(strings.TrimSpace(assignment), "=")
	if !found || key == "" {
		return change{}, false, fmt.Errorf("%w: %q (want <identifier> <key>=<value>)", errMalformedLine, line)
	}
	return change{ident: ident, key: key, value: value}, true, nil
}

func (c change) apply(m *map[string]string) {
	if *m == nil {
		*m = make(map[string]string)
	}
	if c.value == "" {
		delete(*m, c.key)
		return
	}
	(*m)[c.key] = c.value
}
