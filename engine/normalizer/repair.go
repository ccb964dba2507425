package normalizer

import "strings"

const fence = "```"

// StripFences removes a leading ```lang line and a trailing ``` marker.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, fence) {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, fence)
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, fence)
	return strings.TrimSpace(s)
}

// EscapeNewlinesInStrings rewrites raw line feeds that sit inside JSON string
// literals as the two-character sequence \n and drops raw carriage returns
// there. Bytes outside string literals pass through unchanged. A backslash
// always consumes the byte that follows it.
func EscapeNewlinesInStrings(text string) string {
	if !strings.ContainsAny(text, "\n\r") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 16)
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inString = !inString
			b.WriteByte(c)
		case inString && c == '\n':
			b.WriteString(`\n`)
		case inString && c == '\r':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// TrimToStructure cuts text down to the largest balanced object or array
// that decodes as JSON, so brackets in surrounding prose lose to the payload.
// Without such a span it falls back to the first opener through the last
// matching closer. Text that is itself a JSON string literal is left alone.
func TrimToStructure(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, `"`) {
		return s
	}
	best := ""
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end := balancedEnd(s, i)
		if end < 0 {
			continue
		}
		span := s[i : end+1]
		if _, err := decode(span); err != nil {
			continue
		}
		if len(span) > len(best) {
			best = span
		}
		i = end
	}
	if best != "" {
		return best
	}
	return firstToLastCloser(s)
}

// balancedEnd returns the index of the closer matching the opener at start,
// skipping string literals, or -1 when the brackets never balance.
func balancedEnd(s string, start int) int {
	var closers []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			closers = append(closers, '}')
		case '[':
			closers = append(closers, ']')
		case '}', ']':
			if len(closers) == 0 || closers[len(closers)-1] != c {
				return -1
			}
			closers = closers[:len(closers)-1]
			if len(closers) == 0 {
				return i
			}
		}
	}
	return -1
}

func firstToLastCloser(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
