package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var (
	headlineColor = color.New(color.FgBlue, color.Bold)
	fieldColor    = color.New(color.FgCyan)
	successColor  = color.New(color.FgGreen)
	failureColor  = color.New(color.FgRed, color.Bold)
)

// sensitiveKeys are never printed by ServerInfo
var sensitiveKeys = map[string]struct{}{
	"password": {},
	"passwd":   {},
	"secret":   {},
	"token":    {},
}

// Console prints the human-facing bootstrap banner: a headline per subsystem followed by
// aligned field/value listings.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	fieldWidth int
}

// NewConsole writes to out with field names padded to fieldWidth. A nil out writes to stdout.
func NewConsole(out io.Writer, fieldWidth int) *Console {
	if out == nil {
		out = os.Stdout
	}
	if fieldWidth <= 0 {
		fieldWidth = 20
	}
	return &Console{out: out, fieldWidth: fieldWidth}
}

// Discard returns a Console that prints nothing.
func Discard() *Console {
	return NewConsole(io.Discard, 0)
}

// Headline starts a new section.
func (c *Console) Headline(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out)
	headlineColor.Fprintln(c.out, strings.ToUpper(name))
	fmt.Fprintln(c.out, strings.Repeat("-", c.fieldWidth+30))
}

// Listing prints one aligned field/value line. An empty field continues the previous entry.
func (c *Console) Listing(field, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s\n", fieldColor.Sprint(PadEnd(field, c.fieldWidth)), value)
}

// Success prints field with a green value.
func (c *Console) Success(field, value string) {
	c.Listing(field, successColor.Sprint(value))
}

// Failure prints field with a red value.
func (c *Console) Failure(field, value string) {
	c.Listing(field, failureColor.Sprint(value))
}

// ServerInfo lists connection parameters in key order, skipping secrets.
func (c *Console) ServerInfo(info map[string]string) {
	keys := make([]string, 0, len(info))
	for k := range info {
		if _, secret := sensitiveKeys[strings.ToLower(k)]; secret {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Listing(k, info[k])
	}
}
