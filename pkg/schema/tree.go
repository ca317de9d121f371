package schema

import "encoding/json"

// NodeKind distinguishes grouping nodes from executable ones.
type NodeKind string

const (
	NodeKindCategory NodeKind = "category"
	NodeKindSequence NodeKind = "sequence"
)

// NodeRecord is the serializable form of a step tree node.
// Payload and Type are present only for sequence nodes; Name only for categories.
type NodeRecord struct {
	Kind     NodeKind        `json:"kind"`
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Children []NodeRecord    `json:"children"`
}

// DocumentVersion is the current sequence file format version.
const DocumentVersion = 1

// Document is the on-disk form of a step tree.
type Document struct {
	Version int        `json:"version"`
	Root    NodeRecord `json:"root"`
}
