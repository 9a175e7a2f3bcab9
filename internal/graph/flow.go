package graph

import (
	"fmt"
	"strings"

	"formflow/internal/model"
)

// EndNodeID is the id of the terminal node in a flow view
const EndNodeID = model.EndTarget

// Node is one question (or the end marker) in the visual graph
type Node struct {
	ID       string             `json:"id"`
	Type     model.QuestionType `json:"type,omitempty"`
	Title    string             `json:"title"`
	Position model.Position     `json:"position"`
}

// Edge is a branch rule or the fallback to the next question
type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Label    string `json:"label,omitempty"`
	Default  bool   `json:"default,omitempty"`
	Dangling bool   `json:"dangling,omitempty"`
}

type Flow struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// DanglingRule is a branch rule whose target no longer exists
type DanglingRule struct {
	QuestionID string `json:"questionId"`
	RuleIndex  int    `json:"ruleIndex"`
	SkipTo     string `json:"skipTo"`
}

// BuildFlow renders the question list as nodes and edges. A default edge is
// added wherever no rule is unconditional, pointing at the positional next
// question or the end node.
func BuildFlow(questions []model.Question) Flow {
	flow := Flow{
		Nodes: make([]Node, 0, len(questions)+1),
		Edges: []Edge{},
	}

	last := DefaultPosition
	for i, q := range questions {
		flow.Nodes = append(flow.Nodes, Node{ID: q.ID, Type: q.Type(), Title: q.Title, Position: q.Position})
		last = q.Position

		unconditional := false
		for r, rule := range q.Logic {
			if rule.Condition == model.ConditionAlways {
				unconditional = true
			}
			flow.Edges = append(flow.Edges, Edge{
				ID:       fmt.Sprintf("%s-%d", q.ID, r),
				Source:   q.ID,
				Target:   rule.SkipTo,
				Label:    ruleLabel(rule),
				Dangling: !resolves(questions, rule.SkipTo),
			})
		}
		if unconditional {
			continue
		}

		target := EndNodeID
		if cta, ok := q.Details.(model.CTADetails); !ok || cta.ActionType == model.CTAActionNextStep {
			if i+1 < len(questions) {
				target = questions[i+1].ID
			}
		}
		flow.Edges = append(flow.Edges, Edge{
			ID:      fmt.Sprintf("%s-default", q.ID),
			Source:  q.ID,
			Target:  target,
			Default: true,
		})
	}

	flow.Nodes = append(flow.Nodes, Node{
		ID:       EndNodeID,
		Title:    "End",
		Position: model.Position{X: last.X + NodeSpacing, Y: last.Y},
	})
	return flow
}

// Integrity lists every rule whose skipTo is neither "end" nor a question id
func Integrity(form *model.Form) []DanglingRule {
	dangling := []DanglingRule{}
	for _, q := range form.Questions {
		for i, rule := range q.Logic {
			if !resolves(form.Questions, rule.SkipTo) {
				dangling = append(dangling, DanglingRule{QuestionID: q.ID, RuleIndex: i, SkipTo: rule.SkipTo})
			}
		}
	}
	return dangling
}

func resolves(questions []model.Question, target string) bool {
	return target == model.EndTarget || model.IndexOf(questions, target) >= 0
}

func ruleLabel(rule model.Logic) string {
	if rule.Condition == model.ConditionAlways {
		return string(rule.Condition)
	}
	value := rule.Value.String()
	if rule.Value.IsList() {
		value = strings.Join(rule.Value.Items(), ", ")
	}
	return fmt.Sprintf("%s %s", rule.Condition, value)
}
