package validator

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength = 120
	MaxTeamSize    = 500
	MaxPageSize    = 100
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func ValidateProject(title string, capacityEnabled bool, maxSize int) ValidationErrors {
	errs := make(ValidationErrors)

	title = strings.TrimSpace(title)
	if title == "" {
		errs.Add("title", "Title is required")
	} else if utf8.RuneCountInString(title) < 3 {
		errs.Add("title", "Title must be at least 3 characters")
	} else if utf8.RuneCountInString(title) > MaxTitleLength {
		errs.Add("title", "Title is too long")
	}

	validateCapacity(capacityEnabled, maxSize, errs)

	return errs
}

func ValidateCapacity(enabled bool, maxSize int) ValidationErrors {
	errs := make(ValidationErrors)
	validateCapacity(enabled, maxSize, errs)
	return errs
}

// ParseHistoryQuery reads the before/limit query parameters of a history
// request. Empty values mean "newest page" and "default size".
func ParseHistoryQuery(before, limit string) (*int64, int, ValidationErrors) {
	errs := make(ValidationErrors)

	var cursor *int64
	if before = strings.TrimSpace(before); before != "" {
		seq, err := strconv.ParseInt(before, 10, 64)
		if err != nil || seq < 1 {
			errs.Add("before", "Before must be a positive message sequence number")
		} else {
			cursor = &seq
		}
	}

	size := 0
	if limit = strings.TrimSpace(limit); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > MaxPageSize {
			errs.Add("limit", fmt.Sprintf("Limit must be between 1 and %d", MaxPageSize))
		} else {
			size = n
		}
	}

	return cursor, size, errs
}

func validateCapacity(enabled bool, maxSize int, errs ValidationErrors) {
	if !enabled {
		return
	}
	if maxSize < 1 {
		errs.Add("max_size", "Team size must be at least 1")
	} else if maxSize > MaxTeamSize {
		errs.Add("max_size", fmt.Sprintf("Team size cannot exceed %d", MaxTeamSize))
	}
}
