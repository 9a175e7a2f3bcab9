// Package graph holds the form graph transformations. Each function mutates
// the *model.Form it is given in memory; callers load and persist the form.
package graph

import (
	"encoding/json"
	"fmt"

	"formflow/internal/errorz"
	"formflow/internal/model"
	"formflow/internal/schema"

	"github.com/google/uuid"
)

// Cosmetic layout constants for the visual graph
const (
	NodeSpacing      = 350.0
	DuplicateOffsetY = 150.0
)

var DefaultPosition = model.Position{X: 0, Y: 0}

// IDMinter produces collision-free identifiers for questions and options
type IDMinter interface {
	NewID() string
}

// UUIDMinter mints random UUIDs
type UUIDMinter struct{}

func (UUIDMinter) NewID() string {
	return uuid.NewString()
}

// AddQuestionInput describes where a new question goes
type AddQuestionInput struct {
	TargetIndex      int
	TargetQuestionID string
	Question         model.Question
	// SourceLogic, when set, is the branch edge the new question is spliced into.
	SourceLogic *model.Logic
}

// AddQuestion inserts a new question and returns it with its minted id.
func AddQuestion(form *model.Form, in AddQuestionInput, ids IDMinter) (model.Question, error) {
	q := in.Question.Clone()
	q.ID = ids.NewID()
	mintOptionIDs(&q, nil, ids)
	for i := range q.Logic {
		q.Logic[i].QuestionID = q.ID
	}
	if err := q.Validate(); err != nil {
		return model.Question{}, err
	}

	schema.Upsert(&form.FormSchema, q)

	idx := in.TargetIndex
	if idx < 0 {
		idx = 0
	}
	if idx > len(form.Questions) {
		idx = len(form.Questions)
	}

	switch {
	case idx > 0:
		prev := form.Questions[idx-1].Position
		q.Position = model.Position{X: prev.X + NodeSpacing, Y: prev.Y}
	case idx < len(form.Questions):
		q.Position = form.Questions[idx].Position
	default:
		q.Position = DefaultPosition
	}

	if len(q.Logic) == 0 && in.TargetQuestionID != "" {
		q.Logic = []model.Logic{defaultRule(q, in.TargetQuestionID)}
	}

	for i := idx; i < len(form.Questions); i++ {
		form.Questions[i].Position.X += NodeSpacing
	}
	form.Questions = append(form.Questions, model.Question{})
	copy(form.Questions[idx+1:], form.Questions[idx:])
	form.Questions[idx] = q

	if in.SourceLogic != nil {
		splice(form, *in.SourceLogic, q.ID)
	}
	return q.Clone(), nil
}

func defaultRule(q model.Question, target string) model.Logic {
	if sel, ok := q.Details.(model.SelectDetails); ok && len(sel.Options) > 0 {
		return model.Logic{
			QuestionID: q.ID,
			Condition:  model.ConditionIsOneOf,
			Value:      model.List(sel.Labels()...),
			SkipTo:     target,
		}
	}
	return model.Logic{QuestionID: q.ID, Condition: model.ConditionAlways, Value: model.Scalar(""), SkipTo: target}
}

// splice redirects the source question's edge to newID. A missing source is skipped.
func splice(form *model.Form, src model.Logic, newID string) {
	idx := form.QuestionIndex(src.QuestionID)
	if idx < 0 {
		return
	}
	source := &form.Questions[idx]

	rewritten := src.Clone()
	rewritten.QuestionID = source.ID
	rewritten.SkipTo = newID

	if _, ok := source.Details.(model.SelectDetails); !ok {
		source.Logic = []model.Logic{rewritten}
		return
	}

	named := make(map[string]bool)
	for _, v := range src.Value.Strings() {
		named[v] = true
	}

	kept := make([]model.Logic, 0, len(source.Logic)+1)
	for _, rule := range source.Logic {
		if rule.Condition == model.ConditionAlways {
			kept = append(kept, rule)
			continue
		}
		if !rule.Value.IsList() {
			if named[rule.Value.String()] {
				continue
			}
			kept = append(kept, rule)
			continue
		}
		var rest []string
		for _, item := range rule.Value.Items() {
			if !named[item] {
				rest = append(rest, item)
			}
		}
		if len(rest) == 0 {
			continue
		}
		rule.Value = model.List(rest...)
		kept = append(kept, rule)
	}
	source.Logic = append(kept, rewritten)
}

// typeKeys are the flat JSON fields owned by a Details variant
var typeKeys = []string{"subType", "options", "buttonText", "actionType", "redirectUrl"}

// EditQuestion shallow-merges patch into the question with the given id. The
// id cannot be changed. Renamed options carry their branch rules along.
func EditQuestion(form *model.Form, id string, patch map[string]json.RawMessage, ids IDMinter) (model.Question, error) {
	idx := form.QuestionIndex(id)
	if idx < 0 {
		return model.Question{}, fmt.Errorf("question %s: %w", id, errorz.ErrNotFound)
	}
	old := form.Questions[idx]

	raw, err := json.Marshal(old)
	if err != nil {
		return model.Question{}, fmt.Errorf("failed to marshal question: %w", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return model.Question{}, fmt.Errorf("failed to decode question: %w", err)
	}

	if t, ok := patch["type"]; ok && string(t) != string(merged["type"]) {
		for _, k := range typeKeys {
			delete(merged, k)
		}
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		merged[k] = v
	}

	raw, err = json.Marshal(merged)
	if err != nil {
		return model.Question{}, fmt.Errorf("failed to marshal patch: %w", err)
	}
	var q model.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return model.Question{}, fmt.Errorf("%w: %v", errorz.ErrInvalidInput, err)
	}
	q.ID = id

	renames := mintOptionIDs(&q, &old, ids)
	for i := range q.Logic {
		q.Logic[i].QuestionID = id
		if len(renames) > 0 {
			q.Logic[i].Value = renameValue(q.Logic[i].Value, renames)
		}
	}
	if err := q.Validate(); err != nil {
		return model.Question{}, err
	}

	form.Questions[idx] = q
	schema.Upsert(&form.FormSchema, q)
	return q.Clone(), nil
}

// mintOptionIDs gives every option an id. Options without one reuse the id of
// a previous option with the same label. Returns old label -> new label for
// options whose label changed under a stable id.
func mintOptionIDs(q *model.Question, prev *model.Question, ids IDMinter) map[string]string {
	sel, ok := q.Details.(model.SelectDetails)
	if !ok {
		return nil
	}

	byID := make(map[string]string)
	byLabel := make(map[string]string)
	if prev != nil {
		if old, ok := prev.Details.(model.SelectDetails); ok {
			for _, o := range old.Options {
				if o.ID != "" {
					byID[o.ID] = o.Label
					byLabel[o.Label] = o.ID
				}
			}
		}
	}

	renames := make(map[string]string)
	opts := make([]model.Option, len(sel.Options))
	for i, o := range sel.Options {
		if o.ID == "" {
			if id, ok := byLabel[o.Label]; ok {
				o.ID = id
			} else {
				o.ID = ids.NewID()
			}
		} else if label, ok := byID[o.ID]; ok && label != o.Label {
			renames[label] = o.Label
		}
		opts[i] = o
	}
	sel.Options = opts
	q.Details = sel
	return renames
}

func renameValue(v model.Value, renames map[string]string) model.Value {
	if !v.IsList() {
		if to, ok := renames[v.String()]; ok {
			return model.Scalar(to)
		}
		return v
	}
	items := v.Items()
	out := make([]string, len(items))
	for i, item := range items {
		if to, ok := renames[item]; ok {
			item = to
		}
		out[i] = item
	}
	return model.List(out...)
}

// DeleteQuestion removes the question and its schema entry. Rules elsewhere
// that pointed at it are left as they are.
func DeleteQuestion(form *model.Form, id string) error {
	idx := form.QuestionIndex(id)
	if idx < 0 {
		return fmt.Errorf("question %s: %w", id, errorz.ErrNotFound)
	}
	form.Questions = append(form.Questions[:idx], form.Questions[idx+1:]...)
	schema.Remove(&form.FormSchema, id)
	return nil
}

// RemapTargets rewrites skipTo values through ids (old id to new id).
// "end" and targets missing from ids are kept.
func RemapTargets(form *model.Form, ids map[string]string) {
	if len(ids) == 0 {
		return
	}
	for qi := range form.Questions {
		for ri := range form.Questions[qi].Logic {
			rule := &form.Questions[qi].Logic[ri]
			if rule.SkipTo == model.EndTarget {
				continue
			}
			if to, ok := ids[rule.SkipTo]; ok {
				rule.SkipTo = to
			}
		}
	}
}

// DuplicateQuestion clones a question right after the original
func DuplicateQuestion(form *model.Form, id string, ids IDMinter) (model.Question, error) {
	idx := form.QuestionIndex(id)
	if idx < 0 {
		return model.Question{}, fmt.Errorf("question %s: %w", id, errorz.ErrNotFound)
	}

	dup := form.Questions[idx].Clone()
	dup.ID = ids.NewID()
	dup.Title += " (copy)"
	dup.Position.Y += DuplicateOffsetY

	if prop, ok := form.FormSchema.Properties[id]; ok {
		form.FormSchema.Properties[dup.ID] = prop.Clone()
		for _, r := range form.FormSchema.Required {
			if r == id {
				form.FormSchema.Required = append(form.FormSchema.Required, dup.ID)
				break
			}
		}
	} else {
		schema.Upsert(&form.FormSchema, dup)
	}

	form.Questions = append(form.Questions, model.Question{})
	copy(form.Questions[idx+2:], form.Questions[idx+1:])
	form.Questions[idx+1] = dup
	return dup.Clone(), nil
}

// ReorderQuestions applies a full new ordering. Questions that change slot take
// over the cosmetic position of the slot they move into. Returns the ids of the
// moved questions.
func ReorderQuestions(form *model.Form, orderedIDs []string) ([]string, error) {
	if len(orderedIDs) != len(form.Questions) {
		return nil, fmt.Errorf("%w: ordering has %d ids, form has %d questions",
			errorz.ErrInvalidInput, len(orderedIDs), len(form.Questions))
	}

	byID := make(map[string]int, len(form.Questions))
	for i, q := range form.Questions {
		byID[q.ID] = i
	}
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: unknown question %s", errorz.ErrInvalidInput, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: question %s listed twice", errorz.ErrInvalidInput, id)
		}
		seen[id] = true
	}

	reordered := make([]model.Question, len(orderedIDs))
	moved := []string{}
	for slot, id := range orderedIDs {
		from := byID[id]
		q := form.Questions[from]
		if from != slot {
			q.Position = form.Questions[slot].Position
			moved = append(moved, id)
		}
		reordered[slot] = q
	}
	form.Questions = reordered
	return moved, nil
}
