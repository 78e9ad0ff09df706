package graph

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/beevik/etree"
)

// MergePolicy selects what happens when a category lands on a path that
// already carries a template.
type MergePolicy string

const (
	MergeOverwrite MergePolicy = "overwrite"
	MergeCombine   MergePolicy = "combine"
	MergeAppend    MergePolicy = "append"
	MergeSkip      MergePolicy = "skip"
)

// ParseMergePolicy maps a configuration value onto a MergePolicy.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MergeOverwrite, MergeCombine, MergeAppend, MergeSkip:
		return p, nil
	case "":
		return MergeCombine, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", s)
	}
}

// Outcome classifies an insertion.
type Outcome int

const (
	Created Outcome = iota
	DuplicateReplaced
	DuplicateMerged
	DuplicateSkipped
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case DuplicateReplaced:
		return "duplicate-replaced"
	case DuplicateMerged:
		return "duplicate-merged"
	case DuplicateSkipped:
		return "duplicate-skipped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const (
	randomTag     = "random"
	listItemTag   = "li"
	syntheticAttr = "synthetic"

	// DefaultNamespace is the AIML 1.0.1 namespace.
	DefaultNamespace = "http://alicebot.org/2001/AIML-1.0.1"
)

// Resolver combines an existing template with a newly inserted one on a
// duplicate path.
type Resolver struct {
	Policy    MergePolicy
	Separator string // used by MergeAppend
	Logger    *slog.Logger
}

// NewResolver returns a Resolver with the given policy and a single-space
// append separator.
func NewResolver(policy MergePolicy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{Policy: policy, Separator: " ", Logger: logger}
}

// Merge returns the template to store and how the duplicate was resolved.
// If combine or append cannot parse either template, the existing template
// is returned unchanged and the incoming content is dropped.
func (r *Resolver) Merge(existing, incoming string) (string, Outcome) {
	switch r.Policy {
	case MergeOverwrite:
		return incoming, DuplicateReplaced
	case MergeSkip:
		return existing, DuplicateSkipped
	case MergeAppend:
		return r.appendTemplate(existing, incoming), DuplicateMerged
	default:
		return r.combineTemplates(existing, incoming), DuplicateMerged
	}
}

// Replay merges templates in order as if each had been inserted after the
// one before it. templates must not be empty.
func (r *Resolver) Replay(templates []string) string {
	out := templates[0]
	for _, t := range templates[1:] {
		out, _ = r.Merge(out, t)
	}
	return out
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func parseTemplate(s string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("no root element")
	}
	return doc, nil
}

func (r *Resolver) appendTemplate(existing, incoming string) string {
	existingDoc, err := parseTemplate(existing)
	if err != nil {
		r.logger().Error("Parse failure when performing merge append", slog.String("error", err.Error()))
		return existing
	}
	incomingDoc, err := parseTemplate(incoming)
	if err != nil {
		r.logger().Error("Parse failure when performing merge append", slog.String("error", err.Error()))
		return existing
	}

	root := existingDoc.Root()
	if r.Separator != "" {
		root.CreateText(r.Separator)
	}
	moveChildren(root, incomingDoc.Root())
	return writeDocument(existingDoc, existing, r.logger())
}

// combineTemplates wraps the two templates in a synthetic <random> so each
// has an equal chance of being chosen. A synthetic wrapper produced by an
// earlier combine gains one more <li> instead of being nested.
func (r *Resolver) combineTemplates(existing, incoming string) string {
	existingDoc, err := parseTemplate(existing)
	if err != nil {
		r.logger().Error("Parse failure when performing merge combine", slog.String("error", err.Error()))
		return existing
	}
	incomingDoc, err := parseTemplate(incoming)
	if err != nil {
		r.logger().Error("Parse failure when performing merge combine", slog.String("error", err.Error()))
		return existing
	}

	root := existingDoc.Root()
	if wrapper := syntheticRandom(root); wrapper != nil {
		li := etree.NewElement(listItemTag)
		moveChildren(li, incomingDoc.Root())
		wrapper.AddChild(li)
		return writeDocument(existingDoc, existing, r.logger())
	}

	forExisting := etree.NewElement(listItemTag)
	moveChildren(forExisting, root)
	forIncoming := etree.NewElement(listItemTag)
	moveChildren(forIncoming, incomingDoc.Root())

	random := etree.NewElement(randomTag)
	random.CreateAttr(syntheticAttr, "yes")
	random.AddChild(forExisting)
	random.AddChild(forIncoming)
	root.AddChild(random)
	return writeDocument(existingDoc, existing, r.logger())
}

// moveChildren detaches every child token of src and appends it to dst.
func moveChildren(dst, src *etree.Element) {
	for len(src.Child) > 0 {
		dst.AddChild(src.RemoveChildAt(0))
	}
}

// syntheticRandom returns root's only element child if it is a <random>
// created by a previous combine. Whitespace around it is ignored.
func syntheticRandom(root *etree.Element) *etree.Element {
	var found *etree.Element
	for _, tok := range root.Child {
		switch t := tok.(type) {
		case *etree.Element:
			if found != nil {
				return nil
			}
			found = t
		case *etree.CharData:
			if !t.IsWhitespace() {
				return nil
			}
		}
	}
	if found == nil || found.Tag != randomTag || found.SelectAttr(syntheticAttr) == nil {
		return nil
	}
	return found
}

func writeDocument(doc *etree.Document, fallback string, logger *slog.Logger) string {
	out, err := doc.WriteToString()
	if err != nil {
		logger.Error("Failed to serialize merged template", slog.String("error", err.Error()))
		return fallback
	}
	return out
}
