package validation

import (
	"fmt"
	"strings"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// validateSemantic checks what the document schema cannot express: step types
// are registered, leaf steps carry no children, and categories are named.
func validateSemantic(doc *schema.Document, lookup StepLookup) *schema.Report {
	report := &schema.Report{}

	walkRecords(&doc.Root, "root", func(n *schema.NodeRecord, path string) {
		switch n.Kind {
		case schema.NodeKindCategory:
			if strings.TrimSpace(n.Name) == "" && path != "root" {
				report.Warn(path+".name", "category has no name")
			}
			if len(n.Children) == 0 && path != "root" {
				report.Warn(path+".children", "empty category")
			}
		case schema.NodeKindSequence:
			validateSequenceNode(n, path, lookup, report)
		}
	})

	if countSteps(&doc.Root) == 0 {
		report.Warn("root", "sequence contains no steps")
	}
	return report
}

func validateSequenceNode(n *schema.NodeRecord, path string, lookup StepLookup, report *schema.Report) {
	if lookup == nil {
		return
	}
	if !lookup.Has(n.Type) {
		report.Fail(path+".type", schema.ErrCodeNotFound, "step type %q not registered", n.Type)
		return
	}
	if len(n.Children) > 0 && !lookup.IsComposite(n.Type) {
		report.Fail(path+".children", schema.ErrCodeValidation, "step type %q does not accept nested steps", n.Type)
	}
	if len(n.Children) == 0 && lookup.IsComposite(n.Type) {
		report.Warn(path+".children", "%q step has no nested steps", n.Type)
	}
}

// walkRecords visits n and its descendants depth-first, passing each node's
// document path ("root.children[0].children[2]").
func walkRecords(n *schema.NodeRecord, path string, visit func(*schema.NodeRecord, string)) {
	visit(n, path)
	for i := range n.Children {
		walkRecords(&n.Children[i], fmt.Sprintf("%s.children[%d]", path, i), visit)
	}
}

func countSteps(n *schema.NodeRecord) int {
	total := 0
	walkRecords(n, "", func(r *schema.NodeRecord, _ string) {
		if r.Kind == schema.NodeKindSequence {
			total++
		}
	})
	return total
}
