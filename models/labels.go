package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownClass = errors.New("unknown class index")

// AgeBuckets is the output order of the age network.
var AgeBuckets = [...]string{"(0-2)", "(4-6)", "(8-12)", "(15-20)", "(25-32)", "(38-43)", "(48-53)", "(60-100)"}

// Genders is the output order of the gender network.
var Genders = [...]string{"Male", "Female"}

// ArgMax returns the index of the largest score, the first one on ties, or -1
// for an empty vector.
func ArgMax(scores []float32) int {
	if len(scores) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

func GenderLabel(scores []float32) (string, error) {
	i := ArgMax(scores)
	if i < 0 || i >= len(Genders) {
		return "", fmt.Errorf("gender: %w: %d of %d scores", ErrUnknownClass, i, len(scores))
	}
	return Genders[i], nil
}

// AgeLabel maps age network scores to a bucket such as "25-32".
func AgeLabel(scores []float32) (string, error) {
	i := ArgMax(scores)
	if i < 0 || i >= len(AgeBuckets) {
		return "", fmt.Errorf("age: %w: %d of %d scores", ErrUnknownClass, i, len(scores))
	}
	return strings.TrimSuffix(strings.TrimPrefix(AgeBuckets[i], "("), ")"), nil
}

// Line renders a result the way both front ends print it.
func (r AttributeResult) Line() string {
	return fmt.Sprintf("Gender: %s, Age: %s years", r.Gender, r.Age)
}

// Label is the short text drawn next to a face.
func (r AttributeResult) Label() string {
	return fmt.Sprintf("%s, %s", r.Gender, r.Age)
}
