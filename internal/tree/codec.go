package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/validation"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Factory builds a step from its serialized type and payload.
type Factory interface {
	Build(stepType string, payload json.RawMessage) (engine.Step, error)
}

// Serializable is implemented by steps that can be written back to a file.
type Serializable interface {
	Type() string
	Payload() (json.RawMessage, error)
}

// Format selects the on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension. Anything that is not
// .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Codec converts between trees and sequence documents.
type Codec struct {
	factory   Factory
	validator *validation.DocumentValidator
}

// NewCodec returns a codec. validator may be nil to skip document validation.
func NewCodec(factory Factory, validator *validation.DocumentValidator) *Codec {
	return &Codec{factory: factory, validator: validator}
}

// Encode returns the serializable record of n and its subtree.
func Encode(n *Node) (schema.NodeRecord, error) {
	rec := schema.NodeRecord{Kind: n.kind}
	switch n.kind {
	case schema.NodeKindCategory:
		rec.Name = n.name
	case schema.NodeKindSequence:
		s, ok := n.step.(Serializable)
		if !ok {
			return rec, schema.NewErrorf(schema.ErrCodeValidation, "step %q is not serializable", n.Name())
		}
		payload, err := s.Payload()
		if err != nil {
			return rec, schema.NewError(schema.ErrCodeValidation, "encode step payload").
				WithStep(n.Name()).WithCause(err)
		}
		rec.Type = s.Type()
		rec.Payload = compact(payload)
	}
	for _, c := range n.children {
		child, err := Encode(c)
		if err != nil {
			return rec, err
		}
		rec.Children = append(rec.Children, child)
	}
	return rec, nil
}

// Decode rebuilds a tree from rec, constructing steps with the codec's factory.
func (c *Codec) Decode(rec schema.NodeRecord) (*Node, error) {
	return c.decode(rec, "root")
}

func (c *Codec) decode(rec schema.NodeRecord, path string) (*Node, error) {
	var n *Node
	switch rec.Kind {
	case schema.NodeKindCategory:
		n = NewCategory(rec.Name)
	case schema.NodeKindSequence:
		if c.factory == nil {
			return nil, schema.NewError(schema.ErrCodeFramework, "codec has no step factory")
		}
		step, err := c.factory.Build(rec.Type, rec.Payload)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: build %q step", path, rec.Type).WithCause(err)
		}
		n = NewSequence(step)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: unknown node kind %q", path, rec.Kind)
	}
	for i, childRec := range rec.Children {
		child, err := c.decode(childRec, fmt.Sprintf("%s.children[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if err := n.Append(child); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Document wraps the encoded tree in a versioned document.
func (c *Codec) Document(root *Node) (*schema.Document, error) {
	rec, err := Encode(root)
	if err != nil {
		return nil, err
	}
	return &schema.Document{Version: schema.DocumentVersion, Root: rec}, nil
}

// Marshal encodes root in the given format.
func (c *Codec) Marshal(root *Node, format Format) ([]byte, error) {
	doc, err := c.Document(root)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	if format != FormatYAML {
		return append(data, '\n'), nil
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses, validates and decodes a document.
func (c *Codec) Unmarshal(data []byte, format Format) (*Node, error) {
	doc, err := c.ParseDocument(data, format)
	if err != nil {
		return nil, err
	}
	return c.Decode(doc.Root)
}

// ParseDocument parses and validates a document without building steps.
func (c *Codec) ParseDocument(data []byte, format Format) (*schema.Document, error) {
	doc, _, err := c.parse(data, format)
	return doc, err
}

func (c *Codec) parse(data []byte, format Format) (*schema.Document, *schema.Report, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, nil, err
		}
		data = converted
	}

	if c.validator != nil {
		value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, nil, schema.NewError(schema.ErrCodeValidation, "document is not valid JSON").WithCause(err)
		}
		if structural := c.validator.ValidateValue(value); !structural.OK() {
			return nil, structural, structural.Err()
		}
	}

	var doc schema.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "decode document").WithCause(err)
	}
	report := &schema.Report{}
	if c.validator != nil {
		report = c.validator.Validate(&doc)
		if !report.OK() {
			return nil, report, report.Err()
		}
	}
	return &doc, report, nil
}

// Load reads a sequence file, choosing the format from its extension.
func (c *Codec) Load(path string) (*Node, error) {
	root, _, err := c.Check(path)
	return root, err
}

// Check loads a sequence file like Load and also returns the warnings found
// while validating it.
func (c *Codec) Check(path string) (*Node, []schema.Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeResource, "read sequence file %q", path).WithCause(err)
	}
	doc, report, err := c.parse(data, FormatFor(path))
	if err != nil {
		return nil, nil, err
	}
	root, err := c.Decode(doc.Root)
	if err != nil {
		return nil, nil, err
	}
	return root, report.Warnings, nil
}

// Save writes root to path, replacing the file atomically.
func (c *Codec) Save(path string, root *Node) error {
	data, err := c.Marshal(root, FormatFor(path))
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return schema.NewErrorf(schema.ErrCodeResource, "write sequence file %q", path).WithCause(err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "parse yaml").WithCause(err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "yaml document has non-string keys").WithCause(err)
	}
	return out, nil
}

func compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// Equal reports whether two trees have the same shape, kinds, names, step
// types and payloads.
func Equal(a, b *Node) bool {
	ra, errA := Encode(a)
	rb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	ja, _ := json.Marshal(ra)
	jb, _ := json.Marshal(rb)
	return bytes.Equal(ja, jb)
}
