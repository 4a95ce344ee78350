package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
)

const maxBodyBytes = 1 << 20

// RequestBodyParser reads a JSON object or form encoded body once and hands
// out typed fields. Malformed input is reported as INVALID_ARGUMENT.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

// NewRequestBodyParser reads at most 1 MiB of the request body.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = core.InvalidArgument("request body exceeds %d bytes", maxBodyBytes)
	}
	return p
}

// Parse decodes the body. It is safe to call more than once.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = core.InvalidArgument("request body must be a JSON object")
			return p.err
		}
		return nil
	}

	form, err := url.ParseQuery(string(trimmed))
	if err != nil {
		p.err = core.InvalidArgument("malformed form body")
		return p.err
	}
	p.formData = form
	return nil
}

// lookup returns the raw textual value of key and whether it was supplied.
// A JSON null counts as not supplied.
func (p *RequestBodyParser) lookup(key string) (string, bool) {
	if p.jsonData != nil {
		val, ok := p.jsonData[key]
		if !ok || val == nil {
			return "", false
		}
		return stringValue(val), true
	}
	if p.formData != nil {
		if _, ok := p.formData[key]; ok {
			return p.formData.Get(key), true
		}
	}
	return "", false
}

// Get returns the sanitized string value of key, or "".
func (p *RequestBodyParser) Get(key string) string {
	v, _ := p.lookup(key)
	return sanitizeInput(v)
}

// OptionalString returns nil when key was not supplied.
func (p *RequestBodyParser) OptionalString(key string) *string {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	s := sanitizeInput(v)
	return &s
}

// Amount parses a required decimal field.
func (p *RequestBodyParser) Amount(key string) (decimal.Decimal, error) {
	v, _ := p.lookup(key)
	return core.ParseAmount(key, v)
}

// AmountOr parses an optional decimal field, returning def when absent.
func (p *RequestBodyParser) AmountOr(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	return core.ParseAmount(key, v)
}

// OptionalAmount returns nil when key was not supplied.
func (p *RequestBodyParser) OptionalAmount(key string) (*decimal.Decimal, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	d, err := core.ParseAmount(key, v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ID parses a required integer id field.
func (p *RequestBodyParser) ID(key string) (int64, error) {
	v, ok := p.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, core.InvalidArgument("%s is required", key)
	}
	return parseID(key, v)
}

// OptionalID returns nil when key was not supplied.
func (p *RequestBodyParser) OptionalID(key string) (*int64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	id, err := parseID(key, v)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// pathID parses the named path wildcard as an id.
func pathID(r *http.Request, name string) (int64, error) {
	return parseID(name, r.PathValue(name))
}

func parseID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, core.InvalidArgument("%s: '%s' is not a number, must be a number", field, raw)
	}
	return id, nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// sanitizeInput trims whitespace and drops control characters other than
// tab, newline and carriage return.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
