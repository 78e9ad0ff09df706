package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMatchTimeout is returned when a lookup outlives its context.
var ErrMatchTimeout = errors.New("match timed out")

// cursor is the read-only view of a trie that the matcher and the dump
// walker need. Both backends implement it.
type cursor[ID comparable] interface {
	Child(id ID, token string) (ID, bool, error)
	Leaf(id ID) (*Leaf, error)
	Children(id ID) ([]string, error)
}

// Match is the result of a successful lookup.
type Match struct {
	// Template is the stored response template.
	Template string
	// Sources are the sources that contributed to the template.
	Sources []string
	// Path is the sequence of edges walked, wildcards included.
	Path Path
	// InputStars, ThatStars and TopicStars hold the text each wildcard
	// consumed in the respective segment, left to right.
	InputStars []string
	ThatStars  []string
	TopicStars []string
}

// step stages at a search frame, tried in precedence order.
const (
	tryLiteral = iota
	tryUnderscore
	tryAsterisk
	tryAsteriskSpan
	exhausted
)

// cancelCheckEvery bounds how many frames are expanded between context checks.
const cancelCheckEvery = 256

// frame is one choice point of the depth-first search.
type frame[ID comparable] struct {
	node  ID
	pos   int    // index of the next key token to consume
	edge  string // edge taken from the parent frame
	start int    // first key token consumed by that edge
	stage int

	// Asterisk backtracking: the child reached over "*" and the exclusive
	// end of the next span to try. Spans shrink from longest to one token.
	star    ID
	starEnd int
}

// search finds the best leaf for key. Literal edges beat "_", which beats
// "*"; the first complete match in that order wins. "*" consumes the
// longest span first and backs off one token at a time. Wildcards never
// consume a segment separator. Returns (nil, nil) when nothing matches.
func search[ID comparable](ctx context.Context, c cursor[ID], root ID, key Path) (*Match, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	stack := make([]frame[ID], 1, len(key)+1)
	stack[0] = frame[ID]{node: root}
	steps := 0

	for len(stack) > 0 {
		steps++
		if steps%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMatchTimeout, err)
			}
		}

		top := &stack[len(stack)-1]
		if top.pos == len(key) {
			leaf, err := c.Leaf(top.node)
			if err != nil {
				return nil, err
			}
			if leaf != nil {
				return buildMatch(key, stack, leaf), nil
			}
			stack = stack[:len(stack)-1]
			continue
		}

		tok := key[top.pos]
		switch top.stage {
		case tryLiteral:
			top.stage = tryUnderscore
			next, ok, err := c.Child(top.node, tok)
			if err != nil {
				return nil, err
			}
			if ok {
				stack = append(stack, frame[ID]{node: next, pos: top.pos + 1, edge: tok, start: top.pos})
			}

		case tryUnderscore:
			top.stage = tryAsterisk
			if isMarker(tok) || tok == Underscore {
				continue
			}
			next, ok, err := c.Child(top.node, Underscore)
			if err != nil {
				return nil, err
			}
			if ok {
				stack = append(stack, frame[ID]{node: next, pos: top.pos + 1, edge: Underscore, start: top.pos})
			}

		case tryAsterisk:
			top.stage = exhausted
			if isMarker(tok) {
				continue
			}
			next, ok, err := c.Child(top.node, Asterisk)
			if err != nil {
				return nil, err
			}
			if ok {
				top.star = next
				top.starEnd = segmentEnd(key, top.pos)
				top.stage = tryAsteriskSpan
			}

		case tryAsteriskSpan:
			if top.starEnd <= top.pos {
				top.stage = exhausted
				continue
			}
			end := top.starEnd
			top.starEnd--
			stack = append(stack, frame[ID]{node: top.star, pos: end, edge: Asterisk, start: top.pos})

		default:
			stack = stack[:len(stack)-1]
		}
	}
	return nil, nil
}

// segmentEnd returns the index of the next separator at or after pos, or
// len(key) if there is none.
func segmentEnd(key Path, pos int) int {
	for i := pos; i < len(key); i++ {
		if isMarker(key[i]) {
			return i
		}
	}
	return len(key)
}

func buildMatch[ID comparable](key Path, stack []frame[ID], leaf *Leaf) *Match {
	m := &Match{
		Template: leaf.Template,
		Sources:  append([]string(nil), leaf.Sources...),
		Path:     make(Path, 0, len(stack)-1),
	}
	segment := 0
	for _, f := range stack[1:] {
		m.Path = append(m.Path, f.edge)
		switch f.edge {
		case ThatMarker:
			segment = 1
			continue
		case TopicMarker:
			segment = 2
			continue
		case BotMarker:
			segment = 3
			continue
		}
		if f.edge != Asterisk && f.edge != Underscore {
			continue
		}
		star := strings.Join(key[f.start:f.pos], " ")
		switch segment {
		case 0:
			m.InputStars = append(m.InputStars, star)
		case 1:
			m.ThatStars = append(m.ThatStars, star)
		case 2:
			m.TopicStars = append(m.TopicStars, star)
		}
	}
	return m
}
