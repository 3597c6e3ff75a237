package bundle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/new1943/msgsource/locale"
)

var ErrInvalidPattern = errors.New("invalid message pattern")

type argType int

const (
	argDefault argType = iota
	argNumber
	argDate
	argTime
)

type segment struct {
	literal string
	arg     int // -1 for literal segments
	kind    argType
	style   string
}

// MessageFormat is a compiled positional template such as
// "Hello {0}, you have {1,number,integer} new messages". Single quotes escape
// braces and a doubled quote is a literal quote. It is immutable and safe for
// concurrent use.
type MessageFormat struct {
	pattern  string
	locale   locale.Locale
	tag      language.Tag
	segments []segment
}

// Compile parses pattern for rendering under loc.
func Compile(pattern string, loc locale.Locale) (*MessageFormat, error) {
	segments, err := parsePattern(pattern)
	if err != nil {
		return nil, err
	}

	return &MessageFormat{
		pattern:  pattern,
		locale:   loc,
		tag:      loc.Tag(),
		segments: segments,
	}, nil
}

// Pattern returns the source template.
func (f *MessageFormat) Pattern() string {
	return f.pattern
}

// Locale returns the locale the format was compiled for.
func (f *MessageFormat) Locale() locale.Locale {
	return f.locale
}

// Format renders the template. Placeholders without a matching argument are
// emitted as "{n}".
func (f *MessageFormat) Format(args ...any) string {
	printer := message.NewPrinter(f.tag)

	var b strings.Builder
	for _, seg := range f.segments {
		if seg.arg < 0 {
			b.WriteString(seg.literal)
			continue
		}
		if seg.arg >= len(args) {
			b.WriteString("{" + strconv.Itoa(seg.arg) + "}")
			continue
		}
		b.WriteString(renderArg(printer, seg, args[seg.arg]))
	}
	return b.String()
}

func renderArg(printer *message.Printer, seg segment, value any) string {
	switch seg.kind {
	case argNumber:
		if isNumber(value) {
			return renderNumber(printer, seg.style, value)
		}
	case argDate, argTime:
		if t, ok := value.(time.Time); ok {
			return t.Format(timeLayout(seg.kind, seg.style))
		}
	case argDefault:
		switch v := value.(type) {
		case time.Time:
			return v.Format(timeLayout(argDate, "short") + " " + timeLayout(argTime, "short"))
		case fmt.Stringer:
			return v.String()
		}
		if isNumber(value) {
			return renderNumber(printer, "", value)
		}
	}
	return fmt.Sprint(value)
}

func renderNumber(printer *message.Printer, style string, value any) string {
	switch style {
	case "integer":
		return printer.Sprint(number.Decimal(value, number.MaxFractionDigits(0)))
	case "percent":
		return printer.Sprint(number.Percent(value))
	default:
		return printer.Sprint(number.Decimal(value))
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func timeLayout(kind argType, style string) string {
	if kind == argTime {
		switch style {
		case "medium", "":
			return "3:04:05 PM"
		case "long", "full":
			return "3:04:05 PM MST"
		default:
			return "3:04 PM"
		}
	}

	switch style {
	case "short":
		return "1/2/06"
	case "long":
		return "January 2, 2006"
	case "full":
		return "Monday, January 2, 2006"
	default:
		return "Jan 2, 2006"
	}
}

//nolint:gocognit // single pass quote/brace state machine
func parsePattern(pattern string) ([]segment, error) {
	var (
		segments []segment
		literal  strings.Builder
		inQuote  bool
	)

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\'' {
			if i+1 < len(runes) && runes[i+1] == '\'' {
				literal.WriteRune('\'')
				i++
				continue
			}
			inQuote = !inQuote
			continue
		}

		if inQuote || r != '{' {
			literal.WriteRune(r)
			continue
		}

		end := i + 1
		for end < len(runes) && runes[end] != '}' {
			if runes[end] == '{' {
				return nil, fmt.Errorf("%w: nested braces at %d in %q", ErrInvalidPattern, end, pattern)
			}
			end++
		}
		if end >= len(runes) {
			return nil, fmt.Errorf("%w: unmatched brace at %d in %q", ErrInvalidPattern, i, pattern)
		}

		seg, err := parseArgument(string(runes[i+1 : end]))
		if err != nil {
			return nil, fmt.Errorf("%w in %q", err, pattern)
		}

		if literal.Len() > 0 {
			segments = append(segments, segment{literal: literal.String(), arg: -1})
			literal.Reset()
		}
		segments = append(segments, seg)
		i = end
	}

	if literal.Len() > 0 {
		segments = append(segments, segment{literal: literal.String(), arg: -1})
	}
	return segments, nil
}

func parseArgument(body string) (segment, error) {
	fields := strings.SplitN(body, ",", 3) //nolint:mnd // index, type, style
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	index, err := strconv.Atoi(fields[0])
	if err != nil || index < 0 {
		return segment{}, fmt.Errorf("%w: bad argument index %q", ErrInvalidPattern, fields[0])
	}

	seg := segment{arg: index}
	if len(fields) > 2 { //nolint:mnd // style present
		seg.style = fields[2]
	}
	if len(fields) == 1 {
		return seg, nil
	}

	switch fields[1] {
	case "number":
		seg.kind = argNumber
	case "date":
		seg.kind = argDate
	case "time":
		seg.kind = argTime
	case "":
		seg.kind = argDefault
	default:
		return segment{}, fmt.Errorf("%w: unknown format type %q", ErrInvalidPattern, fields[1])
	}
	return seg, nil
}
