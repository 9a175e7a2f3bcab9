package model

import "time"

// FormStatus represents the publication state of a form
type FormStatus string

const (
	FormStatusDraft     FormStatus = "DRAFT"
	FormStatusPublished FormStatus = "PUBLISHED"
)

// SessionStatus represents the state of a respondent session
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

// EndTarget is the skipTo sentinel that finishes a form
const EndTarget = "end"

// Workspace owns forms. It is passed explicitly to every form operation.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Form is the whole document read and written by the graph manager
type Form struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"name"`
	Status      FormStatus `json:"status"`
	Questions   []Question `json:"questions"`
	FormSchema  FormSchema `json:"formSchema"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// QuestionIndex returns the position of the question with the given id, or -1
func (f *Form) QuestionIndex(id string) int {
	return IndexOf(f.Questions, id)
}

// Clone returns a deep copy so transformations never alias the stored document.
func (f *Form) Clone() *Form {
	c := *f
	c.Questions = make([]Question, len(f.Questions))
	for i, q := range f.Questions {
		c.Questions[i] = q.Clone()
	}
	c.FormSchema = f.FormSchema.Clone()
	return &c
}

// IndexOf returns the index of the question with the given id, or -1
func IndexOf(questions []Question, id string) int {
	for i := range questions {
		if questions[i].ID == id {
			return i
		}
	}
	return -1
}

// FormSchema is the JSON-Schema shaped validation document derived from the question list
type FormSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema describes the expected answer for one question
type PropertySchema struct {
	Type      string          `json:"type"`
	Enum      []string        `json:"enum,omitempty"`
	MinLength *int            `json:"minLength,omitempty"`
	Items     *PropertySchema `json:"items,omitempty"`
	MinItems  *int            `json:"minItems,omitempty"`
}

// NewFormSchema returns an empty object schema
func NewFormSchema() FormSchema {
	return FormSchema{
		Type:       "object",
		Properties: make(map[string]PropertySchema),
		Required:   []string{},
	}
}

func (s FormSchema) Clone() FormSchema {
	c := FormSchema{Type: s.Type, Properties: make(map[string]PropertySchema, len(s.Properties))}
	if c.Type == "" {
		c.Type = "object"
	}
	for k, v := range s.Properties {
		c.Properties[k] = v.Clone()
	}
	c.Required = append([]string{}, s.Required...)
	return c
}

func (p PropertySchema) Clone() PropertySchema {
	c := p
	if p.Enum != nil {
		c.Enum = append([]string{}, p.Enum...)
	}
	if p.MinLength != nil {
		v := *p.MinLength
		c.MinLength = &v
	}
	if p.MinItems != nil {
		v := *p.MinItems
		c.MinItems = &v
	}
	if p.Items != nil {
		items := p.Items.Clone()
		c.Items = &items
	}
	return c
}

// Session is one respondent's walk through a form
type Session struct {
	ID                string           `json:"id"`
	FormID            string           `json:"formId"`
	FormVersion       int64            `json:"formVersion"`
	Version           int64            `json:"version"`
	Status            SessionStatus    `json:"status"`
	Preview           bool             `json:"preview,omitempty"`
	CurrentIndex      int              `json:"currentIndex"`
	CurrentQuestionID string           `json:"currentQuestionId,omitempty"`
	Answers           map[string]Value `json:"answers"`
	History           []string         `json:"history"`
	RedirectURL       string           `json:"redirectUrl,omitempty"`
	StartedAt         time.Time        `json:"startedAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Submission is the persisted answer set of a completed session
type Submission struct {
	ID        string           `json:"id"`
	FormID    string           `json:"formId"`
	SessionID string           `json:"sessionId"`
	Answers   map[string]Value `json:"answers"`
	CreatedAt time.Time        `json:"createdAt"`
}
