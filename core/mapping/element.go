// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mapping

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Element is an ordered set of named values. It is used both for database rows
// and for resource documents, and it marshals to a JSON object in key order.
type Element struct {
	keys   []string
	values map[string]interface{}
}

// NewElement returns an empty element
func NewElement() *Element {
	return &Element{values: make(map[string]interface{})}
}

// Keys returns the keys in insertion order
func (e *Element) Keys() []string {
	return append([]string(nil), e.keys...)
}

// Get returns the value of key
func (e *Element) Get(key string) (interface{}, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Set sets the value of key. New keys are appended.
func (e *Element) Set(key string, value interface{}) {
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Delete removes key
func (e *Element) Delete(key string) {
	if _, ok := e.values[key]; !ok {
		return
	}
	delete(e.values, key)
	for i, k := range e.keys {
		if k == key {
			e.keys = append(e.keys[:i], e.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys
func (e *Element) Len() int {
	return len(e.keys)
}

// Map returns the values as plain map
func (e *Element) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(e.values))
	for k, v := range e.values {
		m[k] = v
	}
	return m
}

// MarshalJSON marshals the element as JSON object in key order
func (e *Element) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
