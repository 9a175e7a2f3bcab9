package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"formflow/internal/errorz"
)

// QuestionType discriminates the Details variant of a question
type QuestionType string

const (
	QuestionTypeText   QuestionType = "text"
	QuestionTypeSelect QuestionType = "select"
	QuestionTypeCTA    QuestionType = "cta_button"
)

// TextSubType narrows a text question's input kind
type TextSubType string

const (
	TextSubTypeText     TextSubType = "text"
	TextSubTypeEmail    TextSubType = "email"
	TextSubTypeNumber   TextSubType = "number"
	TextSubTypeURL      TextSubType = "url"
	TextSubTypePhone    TextSubType = "phone"
	TextSubTypePassword TextSubType = "password"
	TextSubTypeAddress  TextSubType = "address"
)

// SelectSubType says whether one or many options may be picked
type SelectSubType string

const (
	SelectSubTypeSingle   SelectSubType = "single"
	SelectSubTypeMultiple SelectSubType = "multiple"
)

// CTAAction is what a call-to-action button does when pressed
type CTAAction string

const (
	CTAActionNextStep    CTAAction = "next_step"
	CTAActionURLRedirect CTAAction = "url_redirect"
	CTAActionEndScreen   CTAAction = "end_screen"
)

// Condition is the comparison a branch rule applies to an answer
type Condition string

const (
	ConditionAlways         Condition = "always"
	ConditionIs             Condition = "is"
	ConditionIsNot          Condition = "is_not"
	ConditionContains       Condition = "contains"
	ConditionDoesNotContain Condition = "does_not_contain"
	ConditionGreaterThan    Condition = "is_greater_than"
	ConditionLessThan       Condition = "is_less_than"
	ConditionIsOneOf        Condition = "is_one_of"
)

const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 500
	MaxButtonTextLength  = 100
)

// Position is the cosmetic coordinate of a question in the visual graph
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Logic is a branch rule owned by a question. QuestionID is a back-reference only.
type Logic struct {
	QuestionID string    `json:"questionId"`
	Condition  Condition `json:"condition"`
	Value      Value     `json:"value"`
	SkipTo     string    `json:"skipTo"`
}

func (l Logic) Clone() Logic {
	l.Value = l.Value.Clone()
	return l
}

// Option is a select choice. ID is stable across renames; Label is what respondents pick.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// UnmarshalJSON accepts either a bare label string or an {id,label} object
func (o *Option) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*o = Option{Label: label}
		return nil
	}
	type plain Option
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("option must be a string or an object: %w", err)
	}
	*o = Option(p)
	return nil
}

// Details is the type-specific part of a question. The set of variants is closed.
type Details interface {
	Type() QuestionType
	isDetails()
}

type TextDetails struct {
	SubType TextSubType
}

type SelectDetails struct {
	SubType SelectSubType
	Options []Option
}

type CTADetails struct {
	ButtonText  string
	ActionType  CTAAction
	RedirectURL string
}

func (TextDetails) Type() QuestionType   { return QuestionTypeText }
func (SelectDetails) Type() QuestionType { return QuestionTypeSelect }
func (CTADetails) Type() QuestionType    { return QuestionTypeCTA }

func (TextDetails) isDetails()   {}
func (SelectDetails) isDetails() {}
func (CTADetails) isDetails()    {}

// Labels returns option labels in order
func (d SelectDetails) Labels() []string {
	labels := make([]string, len(d.Options))
	for i, o := range d.Options {
		labels[i] = o.Label
	}
	return labels
}

// Question is one step of a form
type Question struct {
	ID          string
	Title       string
	Description string
	Placeholder string
	Position    Position
	Logic       []Logic
	VideoID     string
	VideoURL    string
	// Required is nil when unset; unset means required.
	Required *bool
	Details  Details
}

// Type returns the discriminator of the question's variant
func (q Question) Type() QuestionType {
	if q.Details == nil {
		return ""
	}
	return q.Details.Type()
}

// IsRequired applies the default-required policy
func (q Question) IsRequired() bool {
	return q.Required == nil || *q.Required
}

// Clone returns a deep copy
func (q Question) Clone() Question {
	c := q
	if q.Logic != nil {
		c.Logic = make([]Logic, len(q.Logic))
		for i, l := range q.Logic {
			c.Logic[i] = l.Clone()
		}
	}
	if q.Required != nil {
		r := *q.Required
		c.Required = &r
	}
	if sel, ok := q.Details.(SelectDetails); ok {
		sel.Options = append([]Option{}, sel.Options...)
		c.Details = sel
	}
	return c
}

// Validate checks field constraints. An empty title is allowed while a question is being drafted.
func (q Question) Validate() error {
	if utf8.RuneCountInString(q.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", errorz.ErrInvalidInput, MaxTitleLength)
	}
	if utf8.RuneCountInString(q.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", errorz.ErrInvalidInput, MaxDescriptionLength)
	}

	switch d := q.Details.(type) {
	case TextDetails:
		switch d.SubType {
		case TextSubTypeText, TextSubTypeEmail, TextSubTypeNumber, TextSubTypeURL,
			TextSubTypePhone, TextSubTypePassword, TextSubTypeAddress:
		default:
			return fmt.Errorf("%w: unknown text subType %q", errorz.ErrInvalidInput, d.SubType)
		}
	case SelectDetails:
		if d.SubType != SelectSubTypeSingle && d.SubType != SelectSubTypeMultiple {
			return fmt.Errorf("%w: unknown select subType %q", errorz.ErrInvalidInput, d.SubType)
		}
		seen := make(map[string]bool, len(d.Options))
		for _, o := range d.Options {
			if seen[o.Label] {
				return fmt.Errorf("%w: duplicate option %q", errorz.ErrInvalidInput, o.Label)
			}
			seen[o.Label] = true
		}
	case CTADetails:
		n := utf8.RuneCountInString(d.ButtonText)
		if n < 1 || n > MaxButtonTextLength {
			return fmt.Errorf("%w: buttonText must be 1-%d characters", errorz.ErrInvalidInput, MaxButtonTextLength)
		}
		switch d.ActionType {
		case CTAActionNextStep, CTAActionEndScreen:
		case CTAActionURLRedirect:
			if strings.TrimSpace(d.RedirectURL) == "" {
				return fmt.Errorf("%w: redirectUrl is required for url_redirect", errorz.ErrInvalidInput)
			}
		default:
			return fmt.Errorf("%w: unknown actionType %q", errorz.ErrInvalidInput, d.ActionType)
		}
	case nil:
		return fmt.Errorf("%w: question type is required", errorz.ErrInvalidInput)
	}

	for _, l := range q.Logic {
		if l.SkipTo == "" {
			return fmt.Errorf("%w: branch rule without skipTo", errorz.ErrInvalidInput)
		}
	}
	return nil
}

type questionJSON struct {
	ID          string       `json:"id"`
	Type        QuestionType `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	Position    Position     `json:"position"`
	Logic       []Logic      `json:"logic"`
	VideoID     string       `json:"videoId,omitempty"`
	VideoURL    string       `json:"videoUrl,omitempty"`
	Required    *bool        `json:"required,omitempty"`
	SubType     string       `json:"subType,omitempty"`
	Options     []Option     `json:"options,omitempty"`
	ButtonText  string       `json:"buttonText,omitempty"`
	ActionType  CTAAction    `json:"actionType,omitempty"`
	RedirectURL string       `json:"redirectUrl,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	w := questionJSON{
		ID:          q.ID,
		Type:        q.Type(),
		Title:       q.Title,
		Description: q.Description,
		Placeholder: q.Placeholder,
		Position:    q.Position,
		Logic:       q.Logic,
		VideoID:     q.VideoID,
		VideoURL:    q.VideoURL,
		Required:    q.Required,
	}
	if w.Logic == nil {
		w.Logic = []Logic{}
	}

	switch d := q.Details.(type) {
	case TextDetails:
		w.SubType = string(d.SubType)
	case SelectDetails:
		w.SubType = string(d.SubType)
		w.Options = d.Options
		if w.Options == nil {
			w.Options = []Option{}
		}
	case CTADetails:
		w.ButtonText = d.ButtonText
		w.ActionType = d.ActionType
		w.RedirectURL = d.RedirectURL
	}
	return json.Marshal(w)
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*q = Question{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Placeholder: w.Placeholder,
		Position:    w.Position,
		Logic:       w.Logic,
		VideoID:     w.VideoID,
		VideoURL:    w.VideoURL,
		Required:    w.Required,
	}

	switch w.Type {
	case QuestionTypeText:
		sub := TextSubType(w.SubType)
		if sub == "" {
			sub = TextSubTypeText
		}
		q.Details = TextDetails{SubType: sub}
	case QuestionTypeSelect:
		sub := SelectSubType(w.SubType)
		if sub == "" {
			sub = SelectSubTypeSingle
		}
		q.Details = SelectDetails{SubType: sub, Options: w.Options}
	case QuestionTypeCTA:
		action := w.ActionType
		if action == "" {
			action = CTAActionNextStep
		}
		q.Details = CTADetails{ButtonText: w.ButtonText, ActionType: action, RedirectURL: w.RedirectURL}
	default:
		return fmt.Errorf("%w: unsupported question type %q", errorz.ErrInvalidInput, w.Type)
	}
	return nil
}
