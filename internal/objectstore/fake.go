// Copyright 2026 CheckoutFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objectstore

import (
	"context"
	"fmt"
	"sync"

	"checkoutfs/internal/common"
)

// FakeStore is an in-memory BackingStore for tests and local experiments.
// Per-object faults can be injected so callers can exercise fetch-failure
// paths deterministically.
type FakeStore struct {
	mu     sync.RWMutex
	trees  map[Hash]*Tree
	blobs  map[Hash][]byte
	faults map[Hash]error
}

// NewFakeStore returns an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		trees:  make(map[Hash]*Tree),
		blobs:  make(map[Hash][]byte),
		faults: make(map[Hash]error),
	}
}

// PutBlob stores data and returns its content hash.
func (f *FakeStore) PutBlob(data []byte) Hash {
	h := ComputeHash(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[h] = append([]byte{}, data...)
	return h
}

// PutTree stores a tree built from entries and returns it. The tree hash is
// derived from the serialized entry list, so identical trees share a hash.
func (f *FakeStore) PutTree(entries []TreeEntry) *Tree {
	var buf []byte
	for _, e := range entries {
		buf = append(buf, e.Name...)
		buf = append(buf, 0, byte(e.Type))
		buf = append(buf, e.Hash[:]...)
	}
	tree := &Tree{Hash: ComputeHash(buf), Entries: append([]TreeEntry{}, entries...)}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees[tree.Hash] = tree
	return tree
}

// SetFault makes every fetch of h fail with err until ClearFault.
func (f *FakeStore) SetFault(h Hash, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[h] = err
}

// ClearFault removes an injected fault.
func (f *FakeStore) ClearFault(h Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.faults, h)
}

func (f *FakeStore) FetchTree(ctx context.Context, h Hash) (*Tree, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.faults[h]; err != nil {
		return nil, err
	}
	tree, ok := f.trees[h]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", h, common.ErrNotFound)
	}
	return tree, nil
}

func (f *FakeStore) FetchBlob(ctx context.Context, h Hash) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.faults[h]; err != nil {
		return nil, err
	}
	data, ok := f.blobs[h]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", h, common.ErrNotFound)
	}
	return append([]byte{}, data...), nil
}

func (f *FakeStore) FetchBlobMetadata(ctx context.Context, h Hash) (BlobMetadata, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.faults[h]; err != nil {
		return BlobMetadata{}, err
	}
	data, ok := f.blobs[h]
	if !ok {
		return BlobMetadata{}, fmt.Errorf("blob %s: %w", h, common.ErrNotFound)
	}
	return BlobMetadata{Size: uint64(len(data)), SHA1: ComputeHash(data), Type: TypeRegularFile}, nil
}

var _ BackingStore = (*FakeStore)(nil)
