package normalizer

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

type xmlNode struct {
	name     string
	children map[string]any
	text     strings.Builder
}

// decodeXML converts an XML document into the same nested map shape JSON
// decodes to: repeated elements become []any, leaves become strings.
// Attributes are ignored.
func decodeXML(data []byte) (map[string]any, string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	var stack []*xmlNode
	var root *xmlNode
	var rootValue any
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local}
			if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, "", errors.New("decode xml: unbalanced element")
			}
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			value := n.value()
			if len(stack) == 0 {
				rootValue = value
				continue
			}
			stack[len(stack)-1].add(n.name, value)
		}
	}
	if root == nil {
		return nil, "", errors.New("decode xml: empty document")
	}
	tree, _ := rootValue.(map[string]any)
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, root.name, nil
}

func (n *xmlNode) add(name string, value any) {
	if n.children == nil {
		n.children = map[string]any{}
	}
	existing, ok := n.children[name]
	if !ok {
		n.children[name] = value
		return
	}
	if list, ok := existing.([]any); ok {
		n.children[name] = append(list, value)
		return
	}
	n.children[name] = []any{existing, value}
}

func (n *xmlNode) value() any {
	if n.children != nil {
		return n.children
	}
	return n.text.String()
}
