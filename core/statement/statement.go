// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package statement builds parameterized SQL statements incrementally.

A statement is a pair of text and an ordered list of bound values. Every bound
value gets the placeholder "$n" where n is one plus the number of values bound
before it, so the k-th placeholder in the text always refers to the k-th value:

	s := statement.New("select-persons").
		SQL(`select * from persons where community = `).Param("C1").
		SQL(` and lastname in (`).Array([]interface{}{"Smith", "Doe"}).SQL(`)`)

	s.Text()   // select * from persons where community = $1 and lastname in ($2,$3)
	s.Values() // [C1 Smith Doe]

Statements are plain values and never talk to a database; see package csql for
execution.
*/
package statement

import (
	"strconv"
	"strings"
)

// Object is an ordered set of named values, for example a database row in the
// making. Keys must return a stable order.
type Object interface {
	Keys() []string
	Get(key string) (interface{}, bool)
}

// Statement is a parameterized SQL statement under construction
type Statement struct {
	name   string
	text   strings.Builder
	values []interface{}
}

// New returns an empty statement. The name is used for logging and metrics.
func New(name string) *Statement {
	return &Statement{name: name}
}

// Name returns the name of the statement
func (s *Statement) Name() string {
	return s.name
}

// Text returns the SQL text
func (s *Statement) Text() string {
	return s.text.String()
}

// Values returns the bound values in placeholder order
func (s *Statement) Values() []interface{} {
	return s.values
}

// SQL appends raw text
func (s *Statement) SQL(text string) *Statement {
	s.text.WriteString(text)
	return s
}

// Param appends a placeholder and binds value to it
func (s *Statement) Param(value interface{}) *Statement {
	s.values = append(s.values, value)
	s.text.WriteString("$" + strconv.Itoa(len(s.values)))
	return s
}

// Array appends comma separated placeholders, one for each value
func (s *Statement) Array(values []interface{}) *Statement {
	for i, value := range values {
		if i > 0 {
			s.text.WriteString(",")
		}
		s.Param(value)
	}
	return s
}

// Columns appends the keys of o, comma separated
func (s *Statement) Columns(o Object) *Statement {
	s.text.WriteString(strings.Join(o.Keys(), ","))
	return s
}

// Object appends placeholders for the values of o, in the same order as Columns
func (s *Statement) Object(o Object) *Statement {
	for i, key := range o.Keys() {
		if i > 0 {
			s.text.WriteString(",")
		}
		value, _ := o.Get(key)
		s.Param(value)
	}
	return s
}

// Assignments appends "key=$n" pairs for every key of o, comma separated
func (s *Statement) Assignments(o Object) *Statement {
	for i, key := range o.Keys() {
		if i > 0 {
			s.text.WriteString(",")
		}
		value, _ := o.Get(key)
		s.text.WriteString(key + "=")
		s.Param(value)
	}
	return s
}

func (s *Statement) String() string {
	return s.name + ": " + s.text.String()
}
