package valuetree

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FromYAML decodes a UTF-8 YAML-1.2 document into a Value, resolving
// aliases and expanding merge keys (`<<`) itself, since walking a raw
// yaml.Node tree (rather than decoding into a typed struct) bypasses
// yaml.v3's own merge-key expansion. This is the "document parser" spec.md
// §1 says the core assumes has already run.
func FromYAML(data []byte) (Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Value{}, fmt.Errorf("parse yaml: %w", err)
	}
	return fromNode(&doc)
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func fromNode(node *yaml.Node) (Value, error) {
	if node == nil {
		return Null(), nil
	}
	node = resolveAlias(node)
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null(), nil
		}
		return fromNode(node.Content[0])
	case yaml.MappingNode:
		return buildMapping(node)
	case yaml.SequenceNode:
		seq := make([]Value, 0, len(node.Content))
		for _, c := range node.Content {
			v, err := fromNode(c)
			if err != nil {
				return Value{}, err
			}
			seq = append(seq, v)
		}
		return Sequence(seq...), nil
	case yaml.ScalarNode:
		return scalarValue(node)
	default:
		return Null(), nil
	}
}

func scalarValue(node *yaml.Node) (Value, error) {
	switch node.Tag {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindFloat, Float: f}, nil
	default:
		var s string
		if err := node.Decode(&s); err != nil {
			return Value{}, err
		}
		return String(s), nil
	}
}

// buildMapping expands `<<` merge keys: merged keys (from the first merge
// source that defines them) are placed before explicit keys, which always
// win on a name collision regardless of textual position. This keeps the
// ordering deterministic and observable, matching §3's requirement without
// re-deriving yaml.v3's own (struct-decode-only) merge behavior.
func buildMapping(node *yaml.Node) (Value, error) {
	content := node.Content
	type explicitPair struct {
		key string
		val *yaml.Node
	}
	var explicit []explicitPair
	var mergeSources []*yaml.Node

	for i := 0; i+1 < len(content); i += 2 {
		k := content[i]
		v := content[i+1]
		if k.Tag == "!!merge" {
			resolved := resolveAlias(v)
			if resolved.Kind == yaml.SequenceNode {
				for _, c := range resolved.Content {
					mergeSources = append(mergeSources, resolveAlias(c))
				}
			} else {
				mergeSources = append(mergeSources, resolved)
			}
			continue
		}
		var key string
		if err := k.Decode(&key); err != nil {
			return Value{}, fmt.Errorf("mapping key: %w", err)
		}
		explicit = append(explicit, explicitPair{key: key, val: v})
	}

	seen := make(map[string]bool, len(explicit))
	for _, p := range explicit {
		seen[p.key] = true
	}

	var entries []MapEntry
	for _, src := range mergeSources {
		if src == nil || src.Kind != yaml.MappingNode {
			continue
		}
		sub, err := buildMapping(src)
		if err != nil {
			return Value{}, err
		}
		for _, e := range sub.Mapping {
			if seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			entries = append(entries, e)
		}
	}
	for _, p := range explicit {
		val, err := fromNode(p.val)
		if err != nil {
			return Value{}, err
		}
		entries = replaceOrAppend(entries, p.key, val)
	}

	return Mapping(entries...), nil
}

func replaceOrAppend(entries []MapEntry, key string, val Value) []MapEntry {
	for i, e := range entries {
		if e.Key == key {
			entries[i].Value = val
			return entries
		}
	}
	return append(entries, MapEntry{Key: key, Value: val})
}

// ToYAML serializes a Value back into a YAML-1.2 document, preserving
// mapping order. Used to write the resolved config to disk (spec.md §6).
func ToYAML(v Value) ([]byte, error) {
	node := toNode(v)
	return yaml.Marshal(node)
}

func toNode(v Value) *yaml.Node {
	switch v.Kind {
	case KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case KindBool:
		tag := "!!bool"
		val := "false"
		if v.Bool {
			val = "true"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: val}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", v.Int)}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: fmt.Sprintf("%g", v.Float)}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Str}
	case KindSequence:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range v.Sequence {
			n.Content = append(n.Content, toNode(e))
		}
		return n
	case KindMapping:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, e := range v.Mapping {
			n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key}, toNode(e.Value))
		}
		return n
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}
