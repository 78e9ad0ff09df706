package graph

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Structural separators between the four path segments.
const (
	ThatMarker  = "<that>"
	TopicMarker = "<topic>"
	BotMarker   = "<bot>"
)

// Wildcard edge tokens.
const (
	Asterisk   = "*"
	Underscore = "_"
)

var (
	// ErrMalformedPath is returned when a composed path does not have the
	// shape [input] <that> [that] <topic> [topic] <bot> botid.
	ErrMalformedPath = errors.New("malformed composed path")

	// ErrKeyTooLong is returned when a path exceeds the configured token limit.
	ErrKeyTooLong = errors.New("composed path too long")
)

// Path is a composed match key: the canonical token sequence used for both
// insertion and lookup.
type Path []string

// normalizeToken folds case and composes unicode so that the same word
// always produces the same edge key. A Caser is stateful, so callers pass
// their own.
func normalizeToken(c cases.Caser, s string) string {
	if s == Asterisk || s == Underscore {
		return s
	}
	return c.String(norm.NFC.String(s))
}

// splitSegment tokenizes one segment. An empty segment yields the single
// placeholder token "*".
func splitSegment(c cases.Caser, s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return []string{Asterisk}
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = normalizeToken(c, f)
	}
	return out
}

// ComposePath turns input text and its context into a composed path.
// Empty segments are represented by "*". The bot id is kept verbatim.
func ComposePath(input, that, topic, botID string) (Path, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" || strings.ContainsAny(botID, " \t\r\n") {
		return nil, fmt.Errorf("%w: invalid bot id %q", ErrMalformedPath, botID)
	}

	c := cases.Upper(language.Und)
	in := splitSegment(c, input)
	th := splitSegment(c, that)
	tp := splitSegment(c, topic)

	p := make(Path, 0, len(in)+len(th)+len(tp)+4)
	p = append(p, in...)
	p = append(p, ThatMarker)
	p = append(p, th...)
	p = append(p, TopicMarker)
	p = append(p, tp...)
	p = append(p, BotMarker, botID)
	return p, nil
}

// Segments splits a well-formed path back into its four parts.
func (p Path) Segments() (input, that, topic []string, botID string, err error) {
	if err := p.Validate(); err != nil {
		return nil, nil, nil, "", err
	}
	thatAt := p.index(ThatMarker)
	topicAt := p.index(TopicMarker)
	botAt := p.index(BotMarker)
	return p[:thatAt], p[thatAt+1 : topicAt], p[topicAt+1 : botAt], p[botAt+1], nil
}

// BotID returns the terminal bot id token, or "" for a malformed path.
func (p Path) BotID() string {
	if len(p) < 2 || p[len(p)-2] != BotMarker {
		return ""
	}
	return p[len(p)-1]
}

// String renders the path with single spaces.
func (p Path) String() string {
	return strings.Join(p, " ")
}

func (p Path) index(marker string) int {
	for i, t := range p {
		if t == marker {
			return i
		}
	}
	return -1
}

// Validate checks the separator order and that no segment is empty.
func (p Path) Validate() error {
	thatAt, topicAt, botAt := -1, -1, -1
	for i, t := range p {
		switch t {
		case ThatMarker:
			if thatAt >= 0 {
				return fmt.Errorf("%w: repeated %s", ErrMalformedPath, t)
			}
			thatAt = i
		case TopicMarker:
			if topicAt >= 0 {
				return fmt.Errorf("%w: repeated %s", ErrMalformedPath, t)
			}
			topicAt = i
		case BotMarker:
			if botAt >= 0 {
				return fmt.Errorf("%w: repeated %s", ErrMalformedPath, t)
			}
			botAt = i
		case "":
			return fmt.Errorf("%w: empty token at %d", ErrMalformedPath, i)
		}
	}
	switch {
	case thatAt < 1:
		return fmt.Errorf("%w: missing input segment", ErrMalformedPath)
	case topicAt < thatAt+2:
		return fmt.Errorf("%w: missing that segment", ErrMalformedPath)
	case botAt < topicAt+2:
		return fmt.Errorf("%w: missing topic segment", ErrMalformedPath)
	case botAt != len(p)-2:
		return fmt.Errorf("%w: bot marker must precede a single bot id", ErrMalformedPath)
	}
	if id := p[botAt+1]; id == Asterisk || id == Underscore {
		return fmt.Errorf("%w: wildcard bot id", ErrMalformedPath)
	}
	return nil
}

func isMarker(t string) bool {
	return t == ThatMarker || t == TopicMarker || t == BotMarker
}
