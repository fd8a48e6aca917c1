package configtree

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadYAMLFile decodes a YAML document into a nested map[string]Any,
// suitable for MergeMap/ReplaceMap. It decodes via yaml.Node rather than
// straight into a map so that scalar tags (!!int, !!float, !!str) resolve
// the same way regardless of map iteration order — Go map iteration order
// is randomized, and a naive map[string]any unmarshal would otherwise be
// fine here too, but going through yaml.Node keeps this symmetric with
// DumpYAMLFile, which needs it to preserve child insertion order.
func LoadYAMLFile(path string) (map[string]Any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("configtree: parse %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return map[string]Any{}, nil
	}
	v, err := nodeToAny(doc.Content[0])
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]Any)
	if m == nil {
		m = map[string]Any{}
	}
	return m, nil
}

func nodeToAny(n *yaml.Node) (Any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeToAny(n.Content[0])
	case yaml.MappingNode:
		m := make(map[string]Any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			val, err := nodeToAny(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[key] = val
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]Any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeToAny(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		return scalarToAny(n)
	case yaml.AliasNode:
		return nodeToAny(n.Alias)
	default:
		return nil, fmt.Errorf("configtree: unsupported yaml node kind %d", n.Kind)
	}
}

func scalarToAny(n *yaml.Node) (Any, error) {
	switch n.Tag {
	case "!!null":
		return nil, nil
	case "!!bool":
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, err
		}
		return i, nil
	case "!!float":
		f, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return n.Value, nil
	}
}

// DumpYAMLFile writes tree's subtree rooted at topics to path as YAML,
// walking Topics.ChildNames() so sibling order matches the order those
// children were first created in — the round-trip property the
// configuration tree relies on (a file loaded and immediately re-saved,
// with no intervening change, produces byte-identical output).
func DumpYAMLFile(path string, topics *Topics) error {
	data, err := EncodeYAML(topics)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EncodeYAML renders topics's subtree as pretty-printed YAML, the same
// serialization DumpYAMLFile persists — exposed separately so callers that
// only need the bytes (e.g. a `-print` flag dumping to stdout) don't have
// to round-trip through a file.
func EncodeYAML(topics *Topics) ([]byte, error) {
	node := topicsToNode(topics)
	return yaml.Marshal(node)
}

func topicsToNode(topics *Topics) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, child := range topics.Children() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: child.Name()}
		var valNode *yaml.Node
		switch c := child.(type) {
		case *Topics:
			valNode = topicsToNode(c)
		case *Topic:
			valNode = anyToNode(c.Value())
		}
		m.Content = append(m.Content, key, valNode)
	}
	return m
}

func anyToNode(v Any) *yaml.Node {
	switch val := v.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(val)}
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(val, 10)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(val, 'g', -1, 64)}
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: val}
	case []Any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range val {
			seq.Content = append(seq.Content, anyToNode(e))
		}
		return seq
	case map[string]Any:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for k, e := range val {
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, anyToNode(e))
		}
		return m
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprintf("%v", val)}
	}
}
