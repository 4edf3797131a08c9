package quiz

// AutoScore returns the points a question awards for a submitted answer
// without human judgement: full points on a match, otherwise 0. Blank
// answers, non-positive points and types without ground truth score 0.
func AutoScore(q Question, answer string) int {
	if q.Payload == nil || q.Points <= 0 || answer == "" {
		return 0
	}
	if q.Payload.matches(answer) {
		return q.Points
	}
	return 0
}

// NeedsManual reports whether a question type can only score above zero
// through an administrator override.
func NeedsManual(q Question) bool {
	switch q.Payload.(type) {
	case MultipleChoice, TrueFalse, ShortAnswer:
		return false
	default:
		return true
	}
}
