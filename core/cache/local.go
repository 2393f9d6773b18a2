// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package cache

import (
	"context"

	"github.com/viccon/sturdyc"
)

// localStore keeps responses in process memory
type localStore struct {
	client *sturdyc.Client[*Response]
}

type localBackend struct {
	stores map[Section]*localStore
}

func newLocalBackend(policy Policy, namespace string) (Backend, error) {
	capacity := policy.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	b := &localBackend{stores: make(map[Section]*localStore)}
	for _, section := range Sections {
		b.stores[section] = &localStore{
			client: sturdyc.New[*Response](capacity, 10, policy.Duration(), 10),
		}
	}
	return b, nil
}

func (b *localBackend) Store(section Section) Store {
	return b.stores[section]
}

func (s *localStore) Get(ctx context.Context, key string) (*Response, error) {
	response, ok := s.client.Get(key)
	if !ok {
		return nil, nil
	}
	return response, nil
}

func (s *localStore) Set(ctx context.Context, key string, response *Response) error {
	s.client.Set(key, response)
	return nil
}

func (s *localStore) Del(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

func (s *localStore) FlushAll(ctx context.Context) error {
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
	return nil
}
