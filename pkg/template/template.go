package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/sensorship/pkg/log"
)

var (
	// ErrReading is returned when the sensor reading is not a JSON object.
	ErrReading = errors.New("template: reading is not a JSON object")

	// ErrNotJSON is returned when the rendered document does not parse.
	ErrNotJSON = errors.New("template: rendered message is not JSON")
)

var (
	valuePattern = regexp.MustCompile(`<\{\s*([^%>]+?)\s*\}>`)
	callPattern  = regexp.MustCompile(`<#\s*([^%>]+?)\s*#>`)
)

// Call names understood inside <# #>.
const callTimestamp = "TS"

// Template is a parsed payload template. It is safe for concurrent use.
type Template struct {
	text   string
	values []placeholder
	calls  []placeholder
	now    func() time.Time
	logger log.Logger
}

type placeholder struct {
	raw  string
	name string
}

// Option configures a Template.
type Option func(*Template)

// WithClock overrides the time source used by <# TS #>.
func WithClock(now func() time.Time) Option {
	return func(t *Template) { t.now = now }
}

// WithLogger reports skipped placeholders.
func WithLogger(logger log.Logger) Option {
	return func(t *Template) { t.logger = logger }
}

// New parses text into a Template.
func New(text string, opts ...Option) *Template {
	t := &Template{
		text:   text,
		values: scan(valuePattern, text),
		calls:  scan(callPattern, text),
		now:    time.Now,
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func scan(re *regexp.Regexp, text string) []placeholder {
	var out []placeholder
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, placeholder{raw: m[0], name: m[1]})
	}
	return out
}

// Labels returns the reading fields the template refers to, in order of appearance.
func (t *Template) Labels() []string {
	labels := make([]string, 0, len(t.values))
	for _, p := range t.values {
		labels = append(labels, p.name)
	}
	return labels
}

// Format renders reading through the template.
func (t *Template) Format(reading string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(reading))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return "", ErrReading
	}

	msg := t.text
	for _, p := range t.values {
		switch v := fields[p.name].(type) {
		case string:
			quoted, _ := json.Marshal(v)
			msg = strings.ReplaceAll(msg, p.raw, string(quoted))
		case json.Number:
			msg = strings.ReplaceAll(msg, p.raw, v.String())
		default:
			t.logger.Warn("unsupported value type in reading",
				log.String("label", p.name),
				log.String("type", fmt.Sprintf("%T", v)),
			)
		}
	}

	for _, p := range t.calls {
		if p.name != callTimestamp {
			t.logger.Error("unknown template call", log.String("call", p.raw))
			continue
		}
		ts := strconv.FormatInt(t.now().UnixMilli(), 10)
		msg = strings.ReplaceAll(msg, p.raw, ts)
	}

	if !json.Valid([]byte(msg)) {
		return "", fmt.Errorf("%w: %s", ErrNotJSON, msg)
	}
	return msg, nil
}

// Validate renders example and reports why it fails, if it does.
func (t *Template) Validate(example string) error {
	_, err := t.Format(example)
	return err
}
