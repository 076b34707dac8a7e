package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var (
	ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
	ErrCallbackDataInvalid = errors.New("tgui: callback_data malformed")
)

// Data formats inline callback data as "scope:action:payload".
// Payload is kept as-is (no escaping).
func Data(scope, action, payload string) (string, error) {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	out := scope + ":" + action
	if payload != "" {
		out += ":" + payload
	}
	if len(out) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return out, nil
}

// CallbackData is a parsed "scope:action:payload" string.
type CallbackData struct {
	Scope   string
	Action  string
	Payload string
}

// ParseData splits data produced by Data. The payload may itself contain ':'.
func ParseData(data string) (CallbackData, error) {
	parts := strings.SplitN(strings.TrimPrefix(data, "\f"), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return CallbackData{}, ErrCallbackDataInvalid
	}
	cd := CallbackData{Scope: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		cd.Payload = parts[2]
	}
	return cd, nil
}
