// Package trace renders inbound requests as human-readable blocks on the
// console: request line, headers, then the body (re-indented when it is JSON).
//
// Headers are printed sorted by canonical name, not in the order the client
// sent them: net/http parses headers into a map and drops arrival order.
package trace

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Placeholders rendered in place of content that could not be read or shown.
const (
	NonUnicode    = "<non-unicode>"
	BodyError     = "<body error>"
	EncodingError = "<encoding error>"
)

// Printer writes one block per request. Blocks from concurrent requests
// never interleave: each is assembled in memory and written with a single
// Write under the printer's lock.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	request lipgloss.Style
	name    lipgloss.Style
	body    lipgloss.Style
}

// New returns a Printer writing to out. Styling follows the terminal
// capabilities lipgloss detects for out; color=false forces plain text.
func New(out io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(out)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return &Printer{
		out:     out,
		request: base.Bold(true).Foreground(lipgloss.Color("12")),
		name:    base.Bold(true),
		body:    base.Foreground(lipgloss.Color("9")),
	}
}

// Print consumes r.Body and writes the block for the request tagged id.
// It never fails: unreadable parts are replaced by placeholders.
func (p *Printer) Print(id string, r *http.Request) {
	var b strings.Builder

	b.WriteString(p.request.Render(id + " " + r.Method + " " + r.URL.Path))
	b.WriteByte('\n')

	for _, h := range headerLines(r) {
		b.WriteString(p.name.Render(h.name))
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteByte('\n')
	}

	body, ok := RenderBody(r.Body)
	if ok {
		b.WriteString(renderLines(p.body, body))
	} else {
		b.WriteString(body)
	}
	b.WriteString("\n\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.out, b.String())
}

type headerLine struct {
	name  string
	value string
}

// headerLines lists headers sorted by canonical name, one line per value in
// the order the values were received. Arrival order across names is not
// recoverable from http.Header.
func headerLines(r *http.Request) []headerLine {
	names := make([]string, 0, len(r.Header)+1)
	for name := range r.Header {
		names = append(names, name)
	}
	if r.Host != "" && r.Header.Get("Host") == "" {
		names = append(names, "Host")
	}
	sort.Strings(names)

	out := make([]headerLine, 0, len(names))
	for _, name := range names {
		if name == "Host" && len(r.Header["Host"]) == 0 {
			out = append(out, headerLine{name: name, value: HeaderValue(r.Host)})
			continue
		}
		for _, v := range r.Header[name] {
			out = append(out, headerLine{name: name, value: HeaderValue(v)})
		}
	}
	return out
}

// HeaderValue returns v, or NonUnicode when v is not valid UTF-8.
func HeaderValue(v string) string {
	if !utf8.ValidString(v) {
		return NonUnicode
	}
	return v
}

// RenderBody reads body to the end and returns its printable form. JSON is
// re-indented with two spaces; anything else is decoded as UTF-8 with each
// run of invalid bytes replaced by a single U+FFFD. ok is false when the
// body could not be read, in which case the text is BodyError.
func RenderBody(body io.Reader) (text string, ok bool) {
	if body == nil {
		return "", true
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return BodyError, false
	}
	if json.Valid(raw) {
		var out bytes.Buffer
		if err := json.Indent(&out, raw, "", "  "); err != nil {
			return EncodingError, true
		}
		return out.String(), true
	}
	return string(bytes.ToValidUTF8(raw, []byte("�"))), true
}

// renderLines styles each line on its own so lipgloss does not pad
// multi-line text to a common width.
func renderLines(s lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = s.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}
