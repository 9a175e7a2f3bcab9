package logic

import "formflow/internal/model"

// ProgressInfo is the derived completion state shown to respondents
type ProgressInfo struct {
	Answered  int  `json:"answered"`
	Remaining int  `json:"remaining"`
	Total     int  `json:"total"`
	Percent   int  `json:"percent"`
	Complete  bool `json:"complete"`
}

// Progress derives completion from how many questions were answered and the
// default path still ahead of currentIndex.
func Progress(questions []model.Question, currentIndex, answered int, complete bool) ProgressInfo {
	info := ProgressInfo{
		Answered: answered,
		Total:    len(questions),
		Complete: complete,
	}
	if complete {
		info.Percent = 100
		return info
	}

	info.Remaining = EstimateRemaining(questions, currentIndex)
	if denom := answered + info.Remaining; denom > 0 {
		info.Percent = answered * 100 / denom
	}
	return info
}

// EstimateRemaining counts the questions on the default path starting at
// fromIndex, inclusive. The default path follows an unconditional first rule
// when there is one and positional order otherwise.
func EstimateRemaining(questions []model.Question, fromIndex int) int {
	visited := make(map[int]bool)
	count := 0
	idx := fromIndex
	for idx >= 0 && idx < len(questions) && !visited[idx] {
		visited[idx] = true
		count++

		next, ok := defaultNext(idx, questions)
		if !ok {
			break
		}
		idx = next
	}
	return count
}

// Path replays recorded answers from the first question and returns the
// question ids visited in order, stopping at the first unanswered question.
func Path(questions []model.Question, answers map[string]model.Value) []string {
	var path []string
	visited := make(map[int]bool)
	idx := 0
	for idx < len(questions) && !visited[idx] {
		visited[idx] = true
		q := questions[idx]
		path = append(path, q.ID)

		answer, ok := answers[q.ID]
		if !ok {
			break
		}
		next, more := NextQuestionIndex(idx, q, answer, questions)
		if !more {
			break
		}
		idx = next
	}
	return path
}

func defaultNext(idx int, questions []model.Question) (int, bool) {
	q := questions[idx]
	if len(q.Logic) > 0 && q.Logic[0].Condition == model.ConditionAlways {
		target := q.Logic[0].SkipTo
		if target == model.EndTarget {
			return 0, false
		}
		if t := model.IndexOf(questions, target); t >= 0 {
			return t, true
		}
	}
	if cta, ok := q.Details.(model.CTADetails); ok && cta.ActionType != model.CTAActionNextStep {
		return 0, false
	}
	if idx+1 >= len(questions) {
		return 0, false
	}
	return idx + 1, true
}
