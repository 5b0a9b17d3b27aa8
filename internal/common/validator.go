package common

import (
	"errors"
	"strconv"
	"unicode/utf8"
)

const maxSearchQueryLength = 100

// ValidateShowIndex checks that id is a non-negative catalog position.
func ValidateShowIndex(id string) error {
	v, err := strconv.Atoi(id)
	if err != nil {
		return errors.New("invalid show index, not a number")
	}

	if v < 0 {
		return errors.New("invalid show index, less than 0")
	}

	return nil
}

// ValidateWorkerCount checks that at least one worker was requested.
func ValidateWorkerCount(n int) error {
	if n < 1 {
		return errors.New("invalid worker count, less than 1")
	}

	return nil
}

// ValidateSearchQuery checks that a show search query is present and short.
func ValidateSearchQuery(q string) error {
	if q == "" {
		return errors.New("empty search query")
	}

	if utf8.RuneCountInString(q) > maxSearchQueryLength {
		return errors.New("search query too long")
	}

	return nil
}
