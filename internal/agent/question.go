package agent

import (
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// ParseQuestion normalises an intercepted ask-user-question tool input into
// the wire Question. The tool bundles one or more questions under a
// "questions" list; the first one becomes the primary.
func ParseQuestion(input map[string]any) *v1.Question {
	questions := parseQuestionList(input["questions"])
	if len(questions) == 0 {
		// single-question shape
		if q := parseOneQuestion(input); q != nil {
			return q
		}
		return &v1.Question{}
	}

	primary := questions[0]
	if len(questions) > 1 {
		primary.Questions = questions
	}
	return &primary
}

func parseQuestionList(raw any) []v1.Question {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []v1.Question
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if q := parseOneQuestion(m); q != nil {
			out = append(out, *q)
		}
	}
	return out
}

func parseOneQuestion(m map[string]any) *v1.Question {
	text, _ := m["question"].(string)
	if text == "" {
		return nil
	}
	q := &v1.Question{Text: text}
	q.Header, _ = m["header"].(string)
	q.MultiSelect, _ = m["multiSelect"].(bool)

	if options, ok := m["options"].([]any); ok {
		for _, raw := range options {
			switch o := raw.(type) {
			case string:
				q.Options = append(q.Options, v1.QuestionOption{Label: o})
			case map[string]any:
				label, _ := o["label"].(string)
				description, _ := o["description"].(string)
				if label != "" {
					q.Options = append(q.Options, v1.QuestionOption{Label: label, Description: description})
				}
			}
		}
	}
	return q
}
