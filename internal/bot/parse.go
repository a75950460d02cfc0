package bot

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"boorubot/internal/booru"
)

var errBadInterval = errors.New("interval must be a whole number of seconds or a duration like 90s")

func newReqID() string {
	return uuid.NewString()[:8]
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	/hentai "long hair" blue_eyes
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// commandWord extracts the command name from the first token: "/Hentai@my_bot"
// becomes "hentai". ok is false when the token is not a command.
func commandWord(tok string) (string, bool) {
	if !strings.HasPrefix(tok, "/") || len(tok) < 2 {
		return "", false
	}
	word := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), word != ""
}

// parseInterval accepts plain seconds ("30") or a Go duration ("2m").
// An empty argument means zero.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, errBadInterval
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, errBadInterval
	}
	return d, nil
}

// parseTagChoices splits "a b|c|  |d" into the choices ["a b", "c", "d"].
func parseTagChoices(args []string) []string {
	raw := strings.Join(args, " ")
	var out []string
	for _, part := range strings.Split(raw, "|") {
		tags := booru.SplitTags(part)
		if len(tags) == 0 {
			continue
		}
		out = append(out, strings.Join(tags, " "))
	}
	return out
}
