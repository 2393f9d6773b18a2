// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mapping

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Phase is the lifecycle phase in which a field hook runs
type Phase int

// all lifecycle phases
const (
	OnRead Phase = iota
	OnInsert
	OnUpdate
)

func (p Phase) String() string {
	switch p {
	case OnRead:
		return "onread"
	case OnInsert:
		return "oninsert"
	case OnUpdate:
		return "onupdate"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Handler is a field hook. It may change or remove the value of key in e.
type Handler interface {
	Apply(key string, e *Element) error
}

// Remove removes the field
type Remove struct{}

// Apply implements Handler
func (Remove) Apply(key string, e *Element) error {
	e.Delete(key)
	return nil
}

// RemoveIfNull removes the field if it is absent or null
type RemoveIfNull struct{}

// Apply implements Handler
func (RemoveIfNull) Apply(key string, e *Element) error {
	if v, ok := e.Get(key); !ok || v == nil {
		e.Delete(key)
	}
	return nil
}

// SetConstant sets the field to a constant value
type SetConstant struct {
	Value interface{}
}

// Apply implements Handler
func (h SetConstant) Apply(key string, e *Element) error {
	e.Set(key, h.Value)
	return nil
}

// SetTimestamp sets the field to the current time in ISO 8601 format
type SetTimestamp struct {
	// Now defaults to time.Now
	Now func() time.Time
}

// TimestampFormat is the format of timestamps written by SetTimestamp
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Apply implements Handler
func (h SetTimestamp) Apply(key string, e *Element) error {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	e.Set(key, now().UTC().Format(TimestampFormat))
	return nil
}

// Transform replaces a present, non-null field value with the result of Func
type Transform struct {
	Name string
	Func func(value interface{}) (interface{}, error)
}

// Apply implements Handler
func (h Transform) Apply(key string, e *Element) error {
	v, ok := e.Get(key)
	if !ok || v == nil {
		return nil
	}
	result, err := h.Func(v)
	if err != nil {
		return fmt.Errorf("%s of field %s: %w", h.Name, key, err)
	}
	e.Set(key, result)
	return nil
}

// ParseJSON returns a transform which parses JSON text into a value
func ParseJSON() Transform {
	return Transform{Name: "parse", Func: func(value interface{}) (interface{}, error) {
		var text []byte
		switch v := value.(type) {
		case string:
			text = []byte(v)
		case []byte:
			text = v
		default:
			return value, nil
		}
		var result interface{}
		if err := json.Unmarshal(text, &result); err != nil {
			return nil, err
		}
		return result, nil
	}}
}

// StringifyJSON returns a transform which encodes a value as JSON text
func StringifyJSON() Transform {
	return Transform{Name: "stringify", Func: func(value interface{}) (interface{}, error) {
		text, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		return string(text), nil
	}}
}

// ParseHandler parses the configuration of a field hook. Accepted forms are the
// strings "remove", "removeifnull", "now", "parse" and "stringify", and the objects
// {"value": X} and {"transform": "name"} where name is a key of transforms.
func ParseHandler(data json.RawMessage, transforms map[string]Transform) (Handler, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch name {
		case "remove":
			return Remove{}, nil
		case "removeifnull":
			return RemoveIfNull{}, nil
		case "now":
			return SetTimestamp{}, nil
		case "parse":
			return ParseJSON(), nil
		case "stringify":
			return StringifyJSON(), nil
		}
		return nil, fmt.Errorf("unknown hook '%s'", name)
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, fmt.Errorf("invalid hook %s", string(data))
	}
	if raw, ok := object["value"]; ok && len(object) == 1 {
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, err
		}
		return SetConstant{Value: value}, nil
	}
	if raw, ok := object["transform"]; ok && len(object) == 1 {
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, fmt.Errorf("invalid transform name %s", string(raw))
		}
		transform, ok := transforms[name]
		if !ok {
			return nil, fmt.Errorf("unknown transform '%s'", name)
		}
		return transform, nil
	}
	return nil, fmt.Errorf("invalid hook %s", string(data))
}
