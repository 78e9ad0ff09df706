// Package aiml reads categories out of rule files and graph dumps.
//
// Only the category skeleton is interpreted: <category>, <pattern>, <that>,
// <topic> (both the enclosing <topic name="..."> form and the per-category
// element) and <template>. Template bodies are returned as markup strings
// and never evaluated here.
package aiml

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/agentic-research/graphmaster/api"
	"github.com/beevik/etree"
)

// Element and attribute names of the dump format.
const (
	DumpRoot = "graphmaster"
	DumpBot  = "bot"
	RawAttr  = "raw"
)

// PropertyResolver supplies bot property values for <bot name="..."/>
// inside patterns.
type PropertyResolver interface {
	PropertyValue(botID, name string) string
}

// Reader parses rule files.
type Reader struct {
	// Namespace is the markup namespace <aiml> roots are expected to
	// declare. A file declaring another one is still read, with a warning.
	// Empty accepts any namespace.
	Namespace string
	// Properties resolves <bot name="..."/> in pattern, that and topic.
	// When nil such elements are dropped with a warning.
	Properties PropertyResolver
	Logger     *slog.Logger
}

func (rd Reader) logger() *slog.Logger {
	if rd.Logger == nil {
		return slog.Default()
	}
	return rd.Logger
}

// ParseFile reads the categories of the file at path for botID. The path
// is used as the source of every category.
func ParseFile(path, botID string) ([]api.Category, error) {
	return Reader{}.ParseFile(path, botID)
}

// Parse reads every category in r. Categories inside a dump's <bot id="...">
// element take that bot id; all others take botID. A document that fails to
// parse yields no categories at all.
func Parse(r io.Reader, source, botID string) ([]api.Category, error) {
	return Reader{}.Parse(r, source, botID)
}

// ParseFile is the package-level ParseFile with rd's settings.
func (rd Reader) ParseFile(path, botID string) ([]api.Category, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return rd.Parse(f, path, botID)
}

// Parse is the package-level Parse with rd's settings.
func (rd Reader) Parse(r io.Reader, source, botID string) ([]api.Category, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parse %s: no root element", source)
	}

	p := &parser{source: source, props: rd.Properties, logger: rd.logger()}
	switch root.Tag {
	case "aiml":
		rd.checkNamespace(root, source)
		if err := p.container(root, "", botID); err != nil {
			return nil, err
		}
	case DumpRoot:
		for _, b := range root.ChildElements() {
			if b.Tag != DumpBot {
				return nil, fmt.Errorf("parse %s: unexpected <%s> in dump", source, b.Tag)
			}
			id := b.SelectAttrValue("id", "")
			if id == "" {
				return nil, fmt.Errorf("parse %s: <bot> without id", source)
			}
			if err := p.container(b, "", id); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("parse %s: unexpected root <%s>", source, root.Tag)
	}
	return p.out, nil
}

func (rd Reader) checkNamespace(root *etree.Element, source string) {
	ns := root.SelectAttrValue("xmlns", "")
	if rd.Namespace == "" || ns == "" || ns == rd.Namespace {
		return
	}
	rd.logger().Warn("Rule file declares an unexpected namespace",
		slog.String("source", source),
		slog.String("namespace", ns),
		slog.String("expected", rd.Namespace))
}

type parser struct {
	source string
	props  PropertyResolver
	logger *slog.Logger
	out    []api.Category
}

// container reads the categories and <topic name> groups directly under el.
func (p *parser) container(el *etree.Element, topic, botID string) error {
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "category":
			c, err := p.category(child, topic, botID)
			if err != nil {
				return err
			}
			p.out = append(p.out, c)
		case "topic":
			if err := p.container(child, child.SelectAttrValue("name", ""), botID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) category(el *etree.Element, topic, botID string) (api.Category, error) {
	c := api.Category{Topic: topic, Source: p.source, BotID: botID}
	var tmpl *etree.Element
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "pattern":
			c.Pattern = p.patternText(child, botID)
		case "that":
			c.That = p.patternText(child, botID)
		case "topic":
			c.Topic = p.patternText(child, botID)
		case "template":
			tmpl = child
		}
	}
	if tmpl == nil {
		return c, fmt.Errorf("parse %s: category %q has no template", p.source, c.Pattern)
	}
	if tmpl.SelectAttrValue(RawAttr, "") == "yes" {
		c.Template = innerText(tmpl)
		return c, nil
	}

	doc := etree.NewDocument()
	doc.SetRoot(tmpl.Copy())
	s, err := doc.WriteToString()
	if err != nil {
		return c, fmt.Errorf("parse %s: template for %q: %w", p.source, c.Pattern, err)
	}
	c.Template = s
	return c, nil
}

// patternText returns the text of a pattern-side element with each
// <bot name="..."/> replaced by the bot's property value. Any other element
// cannot be matched against and is dropped with a warning.
func (p *parser) patternText(el *etree.Element, botID string) string {
	var b strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			b.WriteString(t.Data)
		case *etree.Element:
			if t.Tag == "bot" && p.props != nil {
				b.WriteString(p.props.PropertyValue(botID, t.SelectAttrValue("name", "")))
				continue
			}
			p.logger.Warn("Dropped element inside pattern",
				slog.String("source", p.source),
				slog.String("element", el.Tag),
				slog.String("child", t.Tag),
				slog.String("bot", botID))
			b.WriteString(innerText(t))
		}
	}
	return b.String()
}

// innerText concatenates all character data below el.
func innerText(el *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(el)
	return b.String()
}
