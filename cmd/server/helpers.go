package main

import (
	"encoding/json"
	"strconv"

	"github.com/hrygo/taskqueue/internal/task"
)

func marshalPayload(payload map[string]any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func marshalMessage(msg task.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
