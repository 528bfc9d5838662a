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

	log "github.com/sirupsen/logrus"

	"checkoutfs/internal/cache"
	"checkoutfs/internal/common"
)

// BackingStore fetches source control objects from their canonical home,
// typically over the network. Fetches may be slow or fail; callers decide
// how failures surface.
type BackingStore interface {
	FetchTree(ctx context.Context, h Hash) (*Tree, error)
	FetchBlob(ctx context.Context, h Hash) ([]byte, error)
	FetchBlobMetadata(ctx context.Context, h Hash) (BlobMetadata, error)
}

// ObjectStore serves trees, blobs, and blob metadata, consulting the local
// SQLite cache before the backing store. Trees and blob metadata are cached;
// blob contents are not, since materialized file data lives in the overlay
// and pristine blob reads are comparatively rare.
type ObjectStore struct {
	backing BackingStore
	local   *LocalStore // may be nil
}

// NewObjectStore returns a store reading through local (which may be nil to
// disable caching) into backing.
func NewObjectStore(backing BackingStore, local *LocalStore) *ObjectStore {
	return &ObjectStore{backing: backing, local: local}
}

func (s *ObjectStore) cacheEnabled() bool {
	return s.local != nil && !cache.Disabled
}

// GetTree returns the tree with the given hash.
func (s *ObjectStore) GetTree(ctx context.Context, h Hash) (*Tree, error) {
	if s.cacheEnabled() {
		tree, err := s.local.GetTree(ctx, h)
		if err != nil {
			log.Warnf("[ObjectStore] local tree lookup %s failed: %v", h, err)
		} else if tree != nil {
			return tree, nil
		}
	}
	tree, err := s.backing.FetchTree(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w: %w", h, common.ErrFetchFailed, err)
	}
	if s.cacheEnabled() {
		if err := s.local.PutTree(ctx, tree); err != nil {
			log.Warnf("[ObjectStore] failed to cache tree %s: %v", h, err)
		}
	}
	return tree, nil
}

// GetBlob returns the contents of the blob with the given hash.
func (s *ObjectStore) GetBlob(ctx context.Context, h Hash) ([]byte, error) {
	data, err := s.backing.FetchBlob(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w: %w", h, common.ErrFetchFailed, err)
	}
	return data, nil
}

// GetBlobMetadata returns the size and content hash of a blob without
// fetching its contents.
func (s *ObjectStore) GetBlobMetadata(ctx context.Context, h Hash) (BlobMetadata, error) {
	if s.cacheEnabled() {
		md, ok, err := s.local.GetBlobMetadata(ctx, h)
		if err != nil {
			log.Warnf("[ObjectStore] local metadata lookup %s failed: %v", h, err)
		} else if ok {
			return md, nil
		}
	}
	md, err := s.backing.FetchBlobMetadata(ctx, h)
	if err != nil {
		return BlobMetadata{}, fmt.Errorf("blob metadata %s: %w: %w", h, common.ErrFetchFailed, err)
	}
	if s.cacheEnabled() {
		if err := s.local.PutBlobMetadata(ctx, h, md); err != nil {
			log.Warnf("[ObjectStore] failed to cache blob metadata %s: %v", h, err)
		}
	}
	return md, nil
}

// Invalidate drops everything from the local cache.
func (s *ObjectStore) Invalidate() {
	if s.local != nil {
		s.local.Invalidate()
	}
}

var _ cache.Invalidator = (*ObjectStore)(nil)
