// Package validate implements the submission validator: a regex-based
// payload schema check per task type, used by the ingress path.
package validate

import (
	"fmt"
	"regexp"
)

// safeText admits word characters, whitespace, and a small punctuation
// set.
var safeText = regexp.MustCompile(`^[\w\s.,@!?\-]+$`)

// ErrUnsupportedTaskType is returned for any tag other than email, image,
// or video.
var ErrUnsupportedTaskType = fmt.Errorf("unsupported task type")

// Validate checks payload against the schema for taskType. Returns nil
// when valid, or an error with one of two exact messages: "Missing
// field '<name>'" or "Invalid or unsafe value for field '<name>'". The
// wording is part of the submission API contract, so it is not
// lowercased the way internal errors are.
func Validate(taskType string, payload map[string]any) error {
	switch taskType {
	case "email":
		return requireStrings(payload, "from", "to", "subject", "content")
	case "image":
		if err := requireStrings(payload, "img_src"); err != nil {
			return err
		}
		return requirePresent(payload, "resize_factor")
	case "video":
		if err := requireStrings(payload, "vid_src"); err != nil {
			return err
		}
		return requirePresent(payload, "resize_factor")
	default:
		return ErrUnsupportedTaskType
	}
}

func requirePresent(payload map[string]any, field string) error {
	if _, ok := payload[field]; !ok {
		return fmt.Errorf("Missing field '%s'", field)
	}
	return nil
}

func requireStrings(payload map[string]any, fields ...string) error {
	for _, field := range fields {
		val, ok := payload[field]
		if !ok {
			return fmt.Errorf("Missing field '%s'", field)
		}
		s, ok := val.(string)
		if !ok || !safeText.MatchString(s) {
			return fmt.Errorf("Invalid or unsafe value for field '%s'", field)
		}
	}
	return nil
}
