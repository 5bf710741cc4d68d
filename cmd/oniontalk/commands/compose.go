package commands

import "strings"

// composer joins continued input lines into one message. A line ending in a
// backslash continues on the next line.
type composer struct {
	lines []string
}

// Feed adds one input line. It returns the message and true when the line
// completes it.
func (c *composer) Feed(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.HasSuffix(line, `\`) {
		c.lines = append(c.lines, strings.TrimSuffix(line, `\`))
		return "", false
	}
	c.lines = append(c.lines, line)
	msg := strings.Join(c.lines, "\n")
	c.lines = c.lines[:0]
	return msg, true
}

// Empty reports whether no continued lines are pending.
func (c *composer) Empty() bool { return len(c.lines) == 0 }
