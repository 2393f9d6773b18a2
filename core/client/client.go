// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	user       string
	password   string
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithBasicAuth() adds credentials to every request.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithBasicAuth returns a new client which authenticates with basic credentials
func (c Client) WithBasicAuth(user, password string) Client {
	c.user = user
	c.password = password
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the base context of all requests
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Resource represents a particular resource type
type Resource struct {
	client     Client
	typePath   string
	parameters []string
}

// Resource returns a new resource client for a type path like "/persons"
func (c Client) Resource(typePath string) Resource {
	return Resource{client: c, typePath: typePath}
}

// WithParameter returns a new resource client with a URL parameter added.
func (r Resource) WithParameter(key string, value string) Resource {
	r.parameters = append(append([]string{}, r.parameters...), url.QueryEscape(key)+"="+url.QueryEscape(value))
	return r
}

// WithParameters returns a new resource client with all URL parameters added.
func (r Resource) WithParameters(keyValues map[string]string) Resource {
	keys := make([]string, 0, len(keyValues))
	for key := range keyValues {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		r = r.WithParameter(key, keyValues[key])
	}
	return r
}

// Path returns the list path of the resource type plus optional query strings
func (r Resource) Path() string {
	if len(r.parameters) == 0 {
		return r.typePath
	}
	return r.typePath + "?" + strings.Join(r.parameters, "&")
}

// List gets the list of the resource type.
//
// The operation corresponds to a GET request.
func (r Resource) List(result interface{}) (int, error) {
	return r.client.RawGet(r.Path(), result)
}

// Schema gets the schema of the resource type
func (r Resource) Schema(result interface{}) (int, error) {
	return r.client.RawGet(r.typePath+"/schema", result)
}

// Item represents a single resource
type Item struct {
	client Client
	href   string
}

// Item returns a client for the resource with key
func (r Resource) Item(key string) Item {
	return Item{client: r.client, href: r.typePath + "/" + key}
}

// Path returns the permalink of the item
func (r Item) Path() string {
	return r.href
}

// Read reads the item.
//
// The operation corresponds to a GET request.
func (r Item) Read(result interface{}) (int, error) {
	return r.client.RawGet(r.href, result)
}

// Upsert updates the item, or creates it if it doesn't exist yet.
//
// The operation corresponds to a PUT request.
func (r Item) Upsert(body interface{}) (int, error) {
	return r.client.RawPut(r.href, body, nil)
}

// Delete deletes the item.
//
// The operation corresponds to a DELETE request.
func (r Item) Delete() (int, error) {
	return r.client.RawDelete(r.href)
}

// BatchOperation is one operation of a batch
type BatchOperation struct {
	Href string      `json:"href"`
	Verb string      `json:"verb"`
	Body interface{} `json:"body"`
}

// Batch executes operations in one transaction
func (c Client) Batch(operations []BatchOperation) (int, error) {
	return c.RawPut("/batch", operations, nil)
}

// Me gets the identity of the authenticated principal
func (c Client) Me(result interface{}) (int, error) {
	return c.RawGet("/me", result)
}

// do executes a request and returns status, header and body of the response
func (c Client) do(method, path string, header map[string]string, body []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Add(key, value)
	}
	if c.user != "" {
		r.SetBasicAuth(c.user, c.password)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, nil
}

func decode(resBody []byte, result interface{}) error {
	if len(resBody) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

// RawGet gets a resource from a path. Expects http.StatusOK as response,
// otherwise it will flag an error.
//
// The path can be extend with query strings.
//
// Returns the actual http status code.
// result can also be raw *[]byte.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets a resource from a path with additional request headers.
// Returns the actual http status code and the response header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	status, resHeader, resBody, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return status, resHeader, err
	}
	if status != http.StatusOK {
		return status, resHeader, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(resBody)))
	}
	return status, resHeader, decode(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK as response,
// otherwise it will flag an error. In case of an error the error document
// is returned as result.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	var err error
	j, ok := body.([]byte)
	if !ok {
		j, err = json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("PUT to %s: %w", path, err)
		}
	}
	status, _, resBody, err := c.do(http.MethodPut, path, map[string]string{"Content-Type": "application/json"}, j)
	if err != nil {
		return status, err
	}
	if err := decode(resBody, result); err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("put to %s got status=%d body=%s", path, status, strings.TrimSpace(string(resBody)))
	}
	return status, nil
}

// RawDelete deletes a resource. Expects http.StatusOK as response,
// otherwise it will flag an error.
func (c Client) RawDelete(path string) (int, error) {
	status, _, resBody, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("delete of %s got status=%d body=%s", path, status, strings.TrimSpace(string(resBody)))
	}
	return status, nil
}
