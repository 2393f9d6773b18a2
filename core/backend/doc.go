/*
Package backend implements the configurable resource backend

A backend maps tables of a SQL database to REST resource types and provides an
auto-generated RESTful-API for them.

Configuration

The configuration is done via JSON. It lists the resource types with their table,
key column and fields. Parts which need code, like security predicates, hooks
after mutations, query filters and transforms, are passed as Extensions to the
Builder.

Example:
  {
	"resources": [
	  {
		"type": "/communities",
		"public": true,
		"fields": [{"name": "name"}],
		"cache": {"kind": "local", "ttl": 60}
	  },
	  {
		"type": "/persons",
		"fields": [
		  {"name": "firstname"},
		  {"name": "lastname"},
		  {"name": "password", "write_only": true},
		  {"name": "created", "oninsert": "now", "onupdate": "remove"},
		  {"name": "community", "references": "/communities"}
		],
		"query": {"communities": {"references": "/communities", "column": "community"}}
	  }
	]
  }

The example creates two resource types. Persons reference their community, which
is exposed as {"href": "/communities/{key}"} and stored as the plain key. The
password is never returned, and created is set on insert and cannot be changed.

Routes

For each type the backend creates the following routes:

  GET    /persons            list of persons, see below
  GET    /persons/{key}      a single person
  PUT    /persons/{key}      creates or updates a person
  DELETE /persons/{key}      deletes a person
  GET    /persons/schema     the JSON schema of persons, if configured

A list has the form {"meta": {"count": N}, "results": [{"href": ..., "expanded": {...}}]}.
It supports the query parameters orderby (comma separated fields), descending,
limit, offset and expand=full, which returns hrefs only, plus the filters of the type.
Unknown parameters and invalid orderings are ignored.

In addition the backend creates

  PUT    /batch              applies [{"href": ..., "verb": "PUT", "body": {...}}] in one transaction
  GET    /me                 the identity of the authenticated principal
  PUT    /log                logs a client side error {"stack": "..."}

Batches are applied in reverse order unless the configuration sets "batch_order": "input".

Authentication and authorization

All types except public ones require HTTP basic authentication. Every request
runs the security predicates of its type concurrently. All predicates must
allow. A predicate can hide the existence of a resource, which is reported as
404 instead of 403.

Caching

Types with a cache policy keep successful GET responses in a local or redis
cache. A cache hit is authorized again with the resources the cached response
reveals. Every write to a type purges the written resource and all lists of the type.
*/
package backend
