// Package store persists quizzes, questions and attempts. Memory and
// Postgres both satisfy question.Store and grading.Store.
package store

import "time"

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
