// Package logic decides which question follows an answer and derives
// respondent progress from a question list.
package logic

import (
	"strconv"
	"strings"

	"formflow/internal/model"
)

// EvaluateLogic returns the skipTo target of the first rule on the question
// that matches the answer. It reports false when the question has no rules or
// none match, in which case the caller advances positionally.
func EvaluateLogic(question model.Question, answer model.Value) (string, bool) {
	for _, rule := range question.Logic {
		if Matches(rule, answer) {
			return rule.SkipTo, true
		}
	}
	return "", false
}

// NextQuestionIndex resolves the evaluator's result to an index in questions.
// It reports false when the form is finished.
func NextQuestionIndex(currentIndex int, question model.Question, answer model.Value, questions []model.Question) (int, bool) {
	if target, ok := EvaluateLogic(question, answer); ok {
		if target == model.EndTarget {
			return 0, false
		}
		if idx := model.IndexOf(questions, target); idx >= 0 {
			return idx, true
		}
		// dangling target: fall through to positional next
	}

	next := currentIndex + 1
	if next >= len(questions) {
		return 0, false
	}
	return next, true
}

// Matches reports whether a single rule holds for the answer. Shape
// mismatches and unknown conditions never match.
func Matches(rule model.Logic, answer model.Value) bool {
	switch rule.Condition {
	case model.ConditionAlways:
		return true
	case model.ConditionIs:
		match, defined := is(answer, rule.Value)
		return defined && match
	case model.ConditionIsNot:
		match, defined := is(answer, rule.Value)
		return defined && !match
	case model.ConditionContains:
		if answer.IsList() || rule.Value.IsList() {
			return false
		}
		return containsFold(answer.String(), rule.Value.String())
	case model.ConditionDoesNotContain:
		if answer.IsList() || rule.Value.IsList() {
			return false
		}
		return !containsFold(answer.String(), rule.Value.String())
	case model.ConditionGreaterThan:
		a, v, ok := numbers(answer, rule.Value)
		return ok && a > v
	case model.ConditionLessThan:
		a, v, ok := numbers(answer, rule.Value)
		return ok && a < v
	case model.ConditionIsOneOf:
		if !rule.Value.IsList() {
			return false
		}
		if answer.IsList() {
			return intersects(answer.Items(), rule.Value.Items())
		}
		return contains(rule.Value.Items(), answer.String())
	default:
		return false
	}
}

// is evaluates equality/membership. defined is false for a scalar answer
// compared against a list value.
func is(answer, value model.Value) (match bool, defined bool) {
	if answer.IsList() {
		if value.IsList() {
			return intersects(answer.Items(), value.Items()), true
		}
		return contains(answer.Items(), value.String()), true
	}
	if value.IsList() {
		return false, false
	}
	return answer.String() == value.String(), true
}

func numbers(answer, value model.Value) (float64, float64, bool) {
	if answer.IsList() || value.IsList() {
		return 0, 0, false
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(answer.String()), 64)
	if err != nil {
		return 0, 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value.String()), 64)
	if err != nil {
		return 0, 0, false
	}
	return a, v, true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
