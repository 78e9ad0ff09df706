package graph

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/agentic-research/graphmaster/internal/aiml"
	"github.com/beevik/etree"
)

// dumpedCategory is one path+template found while walking the graph.
type dumpedCategory struct {
	input, that, topic string
	template           string
}

// walkLeaves visits every leaf below root in sorted edge order, calling fn
// with the full path. Recursion depth is bounded by the longest stored path.
func walkLeaves[ID comparable](ctx context.Context, c cursor[ID], id ID, prefix Path, fn func(Path, *Leaf) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	leaf, err := c.Leaf(id)
	if err != nil {
		return err
	}
	if leaf != nil {
		if err := fn(prefix, leaf); err != nil {
			return err
		}
	}
	tokens, err := c.Children(id)
	if err != nil {
		return err
	}
	for _, tok := range tokens {
		next, ok, err := c.Child(id, tok)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := walkLeaves(ctx, c, next, append(prefix[:len(prefix):len(prefix)], tok), fn); err != nil {
			return err
		}
	}
	return nil
}

// writeDump renders the graph as a <graphmaster> document with one <bot>
// element per bot id, each holding plain AIML categories.
func writeDump[ID comparable](ctx context.Context, c cursor[ID], root ID, w io.Writer) error {
	byBot := make(map[string][]dumpedCategory)
	err := walkLeaves(ctx, c, root, nil, func(p Path, leaf *Leaf) error {
		input, that, topic, botID, err := p.Segments()
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		byBot[botID] = append(byBot[botID], dumpedCategory{
			input:    strings.Join(input, " "),
			that:     strings.Join(that, " "),
			topic:    strings.Join(topic, " "),
			template: leaf.Template,
		})
		return nil
	})
	if err != nil {
		return err
	}

	bots := make([]string, 0, len(byBot))
	for b := range byBot {
		bots = append(bots, b)
	}
	sort.Strings(bots)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateText("\n")
	top := doc.CreateElement(aiml.DumpRoot)
	for _, b := range bots {
		top.CreateText("\n  ")
		botEl := top.CreateElement(aiml.DumpBot)
		botEl.CreateAttr("id", b)
		for _, cat := range byBot[b] {
			botEl.CreateText("\n    ")
			writeCategory(botEl, cat)
		}
		botEl.CreateText("\n  ")
	}
	top.CreateText("\n")
	doc.CreateText("\n")

	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}

func writeCategory(parent *etree.Element, cat dumpedCategory) {
	el := parent.CreateElement("category")
	el.CreateElement("pattern").SetText(cat.input)
	el.CreateElement("that").SetText(cat.that)
	el.CreateElement("topic").SetText(cat.topic)

	// Templates that are a well-formed <template> element are embedded as
	// markup; anything else is kept verbatim as text.
	if doc, err := parseTemplate(cat.template); err == nil && doc.Root().Tag == "template" {
		el.AddChild(doc.Root().Copy())
		return
	}
	raw := el.CreateElement("template")
	raw.CreateAttr(aiml.RawAttr, "yes")
	raw.SetText(cat.template)
}

// LoadDump reads a document written by Dump (or any AIML file with a bot
// id) into g, attributing every category to source. It returns the number
// of categories read.
func LoadDump(ctx context.Context, g Graph, r io.Reader, source string) (int, error) {
	cats, err := aiml.Parse(r, source, "")
	if err != nil {
		return 0, err
	}
	for i, c := range cats {
		if _, err := g.AddCategory(ctx, c); err != nil {
			return i, fmt.Errorf("load dump category %d: %w", i, err)
		}
	}
	return len(cats), nil
}
