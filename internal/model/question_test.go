package model

import (
	"encoding/json"
	"strings"
	"testing"

	"formflow/internal/errorz"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestion_UnmarshalSelectWithLegacyOptions(t *testing.T) {
	raw := `{
		"id": "q2",
		"type": "select",
		"subType": "single",
		"title": "Continue?",
		"options": ["Yes", {"id": "o-no", "label": "No"}],
		"logic": [
			{"questionId": "q2", "condition": "is", "value": "Yes", "skipTo": "end"},
			{"questionId": "q2", "condition": "is_one_of", "value": ["No"], "skipTo": "q3"}
		]
	}`

	var q Question
	require.NoError(t, json.Unmarshal([]byte(raw), &q))

	sel, ok := q.Details.(SelectDetails)
	require.True(t, ok)
	assert.Equal(t, SelectSubTypeSingle, sel.SubType)
	assert.Equal(t, []Option{{Label: "Yes"}, {ID: "o-no", Label: "No"}}, sel.Options)
	assert.Equal(t, []string{"Yes", "No"}, sel.Labels())

	require.Len(t, q.Logic, 2)
	assert.False(t, q.Logic[0].Value.IsList())
	assert.Equal(t, "Yes", q.Logic[0].Value.String())
	assert.True(t, q.Logic[1].Value.IsList())
	assert.Equal(t, []string{"No"}, q.Logic[1].Value.Items())
}

func TestQuestion_MarshalIsFlat(t *testing.T) {
	q := Question{
		ID:      "cta",
		Title:   "Book a call",
		Details: CTADetails{ButtonText: "Go", ActionType: CTAActionURLRedirect, RedirectURL: "https://example.com"},
	}

	b, err := json.Marshal(q)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "cta_button", m["type"])
	assert.Equal(t, "Go", m["buttonText"])
	assert.Equal(t, "url_redirect", m["actionType"])
	assert.Equal(t, []interface{}{}, m["logic"])
	assert.NotContains(t, m, "options")
}

func TestQuestion_UnmarshalUnknownType(t *testing.T) {
	var q Question
	err := json.Unmarshal([]byte(`{"id":"x","type":"rating"}`), &q)
	require.Error(t, err)
	assert.ErrorIs(t, err, errorz.ErrInvalidInput)
}

func TestQuestion_Validate(t *testing.T) {
	t.Run("empty title is allowed", func(t *testing.T) {
		q := Question{Details: TextDetails{SubType: TextSubTypeEmail}}
		assert.NoError(t, q.Validate())
	})

	t.Run("title too long", func(t *testing.T) {
		q := Question{Title: strings.Repeat("a", MaxTitleLength+1), Details: TextDetails{SubType: TextSubTypeText}}
		assert.ErrorIs(t, q.Validate(), errorz.ErrInvalidInput)
	})

	t.Run("redirect requires url", func(t *testing.T) {
		q := Question{Details: CTADetails{ButtonText: "Go", ActionType: CTAActionURLRedirect}}
		assert.ErrorIs(t, q.Validate(), errorz.ErrInvalidInput)
	})

	t.Run("button text bounds", func(t *testing.T) {
		q := Question{Details: CTADetails{ButtonText: "", ActionType: CTAActionNextStep}}
		assert.ErrorIs(t, q.Validate(), errorz.ErrInvalidInput)
	})

	t.Run("duplicate options", func(t *testing.T) {
		q := Question{Details: SelectDetails{SubType: SelectSubTypeMultiple, Options: []Option{{Label: "A"}, {Label: "A"}}}}
		assert.ErrorIs(t, q.Validate(), errorz.ErrInvalidInput)
	})

	t.Run("missing type", func(t *testing.T) {
		assert.ErrorIs(t, Question{}.Validate(), errorz.ErrInvalidInput)
	})
}

func TestQuestion_CloneDoesNotAlias(t *testing.T) {
	q := Question{
		ID:      "q",
		Logic:   []Logic{{Condition: ConditionIsOneOf, Value: List("A"), SkipTo: "end"}},
		Details: SelectDetails{SubType: SelectSubTypeSingle, Options: []Option{{Label: "A"}}},
	}
	c := q.Clone()
	c.Logic[0].SkipTo = "other"
	c.Details.(SelectDetails).Options[0].Label = "B"

	assert.Equal(t, "end", q.Logic[0].SkipTo)
	assert.Equal(t, "A", q.Details.(SelectDetails).Options[0].Label)
}
