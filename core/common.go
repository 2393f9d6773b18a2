// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents an operation on a mapped resource type, one of Read, List, Insert, Update, Delete, Batch
type Operation string

// all supported resource operations
const (
	OperationRead   Operation = "read"
	OperationList   Operation = "list"
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationBatch  Operation = "batch"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationRead, OperationList, OperationInsert, OperationUpdate, OperationDelete, OperationBatch:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// IsMutation returns true for operations which write to the store
func (o Operation) IsMutation() bool {
	return o == OperationInsert || o == OperationUpdate || o == OperationDelete || o == OperationBatch
}

// SplitHref splits a resource href like "/communities/C1" into its type path
// "/communities" and the key "C1". ok is false if href has no key segment.
func SplitHref(href string) (typePath, key string, ok bool) {
	i := strings.LastIndex(href, "/")
	if i <= 0 || i == len(href)-1 {
		return "", "", false
	}
	return href[:i], href[i+1:], true
}

// Href joins a type path and a key into a resource href
func Href(typePath, key string) string {
	return typePath + "/" + key
}
