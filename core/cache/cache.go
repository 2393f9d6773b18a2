// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package cache provides the response cache of a resource type.

A response cache has three sections: single resources, lists and custom
responses. Lookups query all sections at once. A successful response is stored
in the section matching its shape together with the permalinks it reveals, so a
hit can be authorized again without running the handler. Writes purge the
resource entry and flush the list section.
*/
package cache

import (
	"bytes"
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/roa/core/logger"
	"github.com/relabs-tech/roa/core/metrics"
)

// storedHeaders are the response headers kept with a cached response
var storedHeaders = []string{"Content-Type", "Content-Encoding", "Content-Disposition"}

// ResponseCache is the response cache of one resource type
type ResponseCache struct {
	typePath string
	backend  Backend
}

// New creates the response cache of a resource type
func New(typePath string, policy Policy) (*ResponseCache, error) {
	backend, err := newBackend(policy, typePath)
	if err != nil {
		return nil, err
	}
	return &ResponseCache{typePath: typePath, backend: backend}, nil
}

// Section returns the store of a section
func (c *ResponseCache) Section(section Section) Store {
	return c.backend.Store(section)
}

// Lookup searches key in all sections concurrently. It returns nil on a miss.
// Failing stores are logged and count as a miss.
func (c *ResponseCache) Lookup(ctx context.Context, key string) *Response {
	results := make([]*Response, len(Sections))
	var g errgroup.Group
	for i, section := range Sections {
		g.Go(func() error {
			response, err := c.Section(section).Get(ctx, key)
			if err != nil {
				logger.FromContext(ctx).WithError(err).Errorf("cache lookup of %s in %s failed", key, section)
				return nil
			}
			results[i] = response
			return nil
		})
	}
	g.Wait()

	for i, response := range results {
		if response != nil {
			metrics.RecordCacheLookup(c.typePath, string(Sections[i]), true)
			return response
		}
	}
	metrics.RecordCacheLookup(c.typePath, "", false)
	return nil
}

// Store stores a recorded response under key. Only status 200 is stored.
func (c *ResponseCache) Store(ctx context.Context, key string, rec *Recorder) {
	if rec.Status() != http.StatusOK {
		return
	}
	response := rec.Response()
	section := SectionFor(response.Body)
	if err := c.Section(section).Set(ctx, key, response); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("cannot store %s in %s cache", key, section)
	}
}

// Invalidate purges the resource entry of key and flushes the list section
func (c *ResponseCache) Invalidate(ctx context.Context, key string) {
	metrics.CacheInvalidationsTotal.WithLabelValues(c.typePath).Inc()
	rlog := logger.FromContext(ctx)
	if err := c.Section(SectionResources).Del(ctx, key); err != nil {
		rlog.WithError(err).Errorf("cannot purge %s from cache", key)
	}
	if err := c.Section(SectionList).FlushAll(ctx); err != nil {
		rlog.WithError(err).Errorf("cannot flush list cache of %s", c.typePath)
	}
}

type shape struct {
	Meta *struct {
		Count     *int64 `json:"count"`
		Permalink string `json:"permalink"`
	} `json:"meta"`
	Results []struct {
		Href string `json:"href"`
	} `json:"results"`
}

// SectionFor returns the section for a response body: lists carry meta.count,
// any other JSON object is a resource, everything else is custom.
func SectionFor(body []byte) Section {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return SectionCustom
	}
	var s shape
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return SectionCustom
	}
	if s.Meta != nil && s.Meta.Count != nil {
		return SectionList
	}
	return SectionResources
}

// Permalinks returns the hrefs a response body reveals: the permalink of a
// single resource, or the hrefs of all list results.
func Permalinks(body []byte) []string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var s shape
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil
	}
	if s.Meta != nil && s.Meta.Permalink != "" {
		return []string{s.Meta.Permalink}
	}
	var permalinks []string
	for _, result := range s.Results {
		if result.Href != "" {
			permalinks = append(permalinks, result.Href)
		}
	}
	return permalinks
}

// Replay writes a stored response
func Replay(w http.ResponseWriter, response *Response) {
	for key, value := range response.Header {
		w.Header().Set(key, value)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(response.Body)
}

// Recorder is a response writer which passes everything through and keeps a
// copy of status, headers and body
type Recorder struct {
	http.ResponseWriter
	status     int
	body       bytes.Buffer
	permalinks []string
	// inherited are the headers set by outer middleware before the handler ran.
	// They describe the transport, not the recorded bytes.
	inherited map[string]string
}

// NewRecorder wraps w
func NewRecorder(w http.ResponseWriter) *Recorder {
	inherited := map[string]string{}
	for _, key := range storedHeaders {
		if value := w.Header().Get(key); value != "" {
			inherited[key] = value
		}
	}
	return &Recorder{ResponseWriter: w, inherited: inherited}
}

// WriteHeader implements http.ResponseWriter
func (r *Recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

// Write implements http.ResponseWriter
func (r *Recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Status returns the recorded status
func (r *Recorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// SetPermalinks sets the permalinks of a response whose body does not reveal them
func (r *Recorder) SetPermalinks(permalinks []string) {
	r.permalinks = permalinks
}

// Written returns true once a status or body was written
func (r *Recorder) Written() bool {
	return r.status != 0
}

// Response returns the recorded response. Headers which outer middleware had
// set before the handler ran, like the Content-Encoding of a compressor, are
// not part of it.
func (r *Recorder) Response() *Response {
	header := map[string]string{}
	for _, key := range storedHeaders {
		if value := r.Header().Get(key); value != "" && value != r.inherited[key] {
			header[key] = value
		}
	}
	body := append([]byte(nil), r.body.Bytes()...)
	permalinks := Permalinks(body)
	if len(permalinks) == 0 {
		permalinks = r.permalinks
	}
	return &Response{Header: header, Body: body, Permalinks: permalinks}
}
