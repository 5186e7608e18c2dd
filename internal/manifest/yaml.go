package manifest

import (
	"gopkg.in/yaml.v3"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
)

// Marshal renders m as the deterministic YAML document defined in §6.1: keys
// in order root/timestamp/file_count/total_size_bytes/files, entries sorted
// by path (Capture already sorts), and text content as a literal block
// scalar so line endings round-trip exactly.
func Marshal(m *types.Manifest) ([]byte, error) {
	node, err := toNode(m)
	if err != nil {
		return nil, phaserr.Wrap(phaserr.Internal, err)
	}
	return yaml.Marshal(node)
}

// Unmarshal parses a manifest YAML document produced by Marshal.
func Unmarshal(data []byte) (*types.Manifest, error) {
	var m types.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, phaserr.Wrap(phaserr.Validation, err)
	}
	return &m, nil
}

func toNode(m *types.Manifest) (*yaml.Node, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	addField(root, "root", scalar(m.Root))
	addField(root, "timestamp", scalar(m.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")))
	addField(root, "file_count", scalar(m.FileCount))
	addField(root, "total_size_bytes", scalar(m.TotalSizeBytes))

	filesNode := &yaml.Node{Kind: yaml.SequenceNode}
	for _, f := range m.Files {
		entryNode, err := fileEntryNode(f)
		if err != nil {
			return nil, err
		}
		filesNode.Content = append(filesNode.Content, entryNode)
	}
	addField(root, "files", filesNode)

	return root, nil
}

func fileEntryNode(f types.FileEntry) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	addField(n, "path", scalar(f.Path))
	addField(n, "type", scalar(string(f.Type)))
	addField(n, "size", scalar(f.Size))

	hashNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	if f.SHA256 != nil {
		hashNode = scalar(*f.SHA256)
	}
	addField(n, "sha256", hashNode)

	if f.Content != "" {
		content := &yaml.Node{Kind: yaml.ScalarNode, Style: yaml.LiteralStyle, Value: f.Content}
		addField(n, "content", content)
	}

	addField(n, "is_executable", scalar(f.IsExecutable))
	if f.Unreadable {
		addField(n, "unreadable", scalar(true))
	}
	return n, nil
}

func addField(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
}

func scalar(v interface{}) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode}
	if err := n.Encode(v); err != nil {
		n.Value = ""
	}
	return n
}
