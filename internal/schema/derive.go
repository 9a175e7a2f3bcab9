package schema

import (
	"encoding/json"

	"formflow/internal/model"
)

// PropertyFor derives the answer schema of a question. CTA buttons collect no
// answer and report false.
func PropertyFor(q model.Question) (model.PropertySchema, bool) {
	minimum := 0
	if q.IsRequired() {
		minimum = 1
	}

	switch d := q.Details.(type) {
	case model.TextDetails:
		return model.PropertySchema{Type: "string", MinLength: &minimum}, true
	case model.SelectDetails:
		if d.SubType == model.SelectSubTypeMultiple {
			return model.PropertySchema{
				Type:     "array",
				Items:    &model.PropertySchema{Type: "string", Enum: d.Labels()},
				MinItems: &minimum,
			}, true
		}
		return model.PropertySchema{Type: "string", Enum: d.Labels(), MinLength: &minimum}, true
	default:
		return model.PropertySchema{}, false
	}
}

// Upsert replaces the question's property, or removes it when the question no
// longer collects an answer. The required list follows the question's flag.
func Upsert(s *model.FormSchema, q model.Question) {
	ensure(s)
	prop, ok := PropertyFor(q)
	if !ok {
		Remove(s, q.ID)
		return
	}
	s.Properties[q.ID] = prop
	if q.IsRequired() {
		if !containsID(s.Required, q.ID) {
			s.Required = append(s.Required, q.ID)
		}
	} else {
		s.Required = removeID(s.Required, q.ID)
	}
}

// Remove deletes the question's property and required entry
func Remove(s *model.FormSchema, id string) {
	ensure(s)
	delete(s.Properties, id)
	s.Required = removeID(s.Required, id)
}

// Build derives a fresh schema for the whole question list
func Build(questions []model.Question) model.FormSchema {
	s := model.NewFormSchema()
	for _, q := range questions {
		Upsert(&s, q)
	}
	return s
}

// ToMap converts a form schema into the generic document the compiler consumes
func ToMap(s model.FormSchema) (map[string]interface{}, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// PropertyDocument wraps one property into an object schema so a single answer
// can be validated on its own.
func PropertyDocument(s model.FormSchema, id string) (map[string]interface{}, bool, error) {
	prop, ok := s.Properties[id]
	if !ok {
		return nil, false, nil
	}
	sub := model.FormSchema{
		Type:       "object",
		Properties: map[string]model.PropertySchema{id: prop},
		Required:   []string{},
	}
	if containsID(s.Required, id) {
		sub.Required = []string{id}
	}
	m, err := ToMap(sub)
	return m, true, err
}

func ensure(s *model.FormSchema) {
	if s.Type == "" {
		s.Type = "object"
	}
	if s.Properties == nil {
		s.Properties = make(map[string]model.PropertySchema)
	}
	if s.Required == nil {
		s.Required = []string{}
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
