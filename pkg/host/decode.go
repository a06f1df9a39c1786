package host

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeMessages decodes a history listing of the form
// [{"info": {...}, "parts": [...]}, ...]. Parts are read from both the
// entry and its info object since host versions differ on placement.
func DecodeMessages(data []byte) ([]Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid message listing")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("message listing is not an array")
	}

	var messages []Message
	root.ForEach(func(_, entry gjson.Result) bool {
		msg := decodeInfo(entry.Get("info"))
		msg.Parts = append(decodeParts(entry.Get("parts")), decodeParts(entry.Get("info.parts"))...)
		messages = append(messages, msg)
		return true
	})
	return messages, nil
}

// DecodeEvent decodes one event payload. ok is false for payloads that are
// not JSON objects or carry no type.
func DecodeEvent(data []byte) (Event, bool) {
	if !gjson.ValidBytes(data) {
		return Event{}, false
	}
	root := gjson.ParseBytes(data)
	eventType := root.Get("type").String()
	if eventType == "" {
		return Event{}, false
	}

	evt := Event{Type: EventType(eventType)}
	props := root.Get("properties")
	switch evt.Type {
	case EventMessageUpdated:
		info := props.Get("info")
		if info.Exists() {
			msg := decodeInfo(info)
			msg.Parts = decodeParts(info.Get("parts"))
			evt.Message = &msg
			evt.SessionID = msg.SessionID
		}
	default:
		evt.SessionID = props.Get("sessionID").String()
	}
	return evt, true
}

func decodeInfo(info gjson.Result) Message {
	msg := Message{
		ID:        info.Get("id").String(),
		SessionID: info.Get("sessionID").String(),
		Role:      Role(info.Get("role").String()),
		Agent:     info.Get("agent").String(),
	}

	if model := info.Get("model"); model.IsObject() {
		msg.Model = decodeModel(model.Get("providerID"), model.Get("modelID"))
	} else if msg.Role == RoleAssistant {
		msg.Model = decodeModel(info.Get("providerID"), info.Get("modelID"))
	}
	return msg
}

func decodeModel(provider, model gjson.Result) *ModelRef {
	if provider.String() == "" && model.String() == "" {
		return nil
	}
	return &ModelRef{ProviderID: provider.String(), ModelID: model.String()}
}

func decodeParts(parts gjson.Result) []Part {
	if !parts.IsArray() {
		return nil
	}
	var out []Part
	parts.ForEach(func(_, part gjson.Result) bool {
		out = append(out, Part{
			Type:      part.Get("type").String(),
			Text:      part.Get("text").String(),
			Synthetic: part.Get("synthetic").Bool(),
		})
		return true
	})
	return out
}
