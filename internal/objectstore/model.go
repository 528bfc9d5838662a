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

// Package objectstore provides access to source control trees and blobs,
// backed by a pluggable BackingStore with a local SQLite cache in front.
package objectstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// HashLength is the size of an object hash in bytes.
const HashLength = 20

// Hash identifies a source control object (tree or blob).
type Hash [HashLength]byte

// HashFromHex parses a 40-character hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	if len(s) != HashLength*2 {
		return h, fmt.Errorf("invalid hash %q: want %d hex chars", s, HashLength*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	copy(h[:], b)
	return h, nil
}

// ComputeHash returns the content hash of data. Object identity is
// content-addressed, so the fake backing store and tests can derive hashes
// without a registry.
func ComputeHash(data []byte) Hash {
	return Hash(sha1.Sum(data))
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// EntryType classifies a tree entry.
type EntryType int

const (
	TypeTree EntryType = iota
	TypeRegularFile
	TypeExecutableFile
	TypeSymlink
)

func (t EntryType) String() string {
	switch t {
	case TypeTree:
		return "tree"
	case TypeRegularFile:
		return "regular"
	case TypeExecutableFile:
		return "executable"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// TreeEntry is a single named entry inside a source control tree.
type TreeEntry struct {
	Name string
	Type EntryType
	Hash Hash
}

// IsTree reports whether the entry refers to a subtree.
func (e TreeEntry) IsTree() bool {
	return e.Type == TypeTree
}

// Tree is an immutable source control directory listing.
type Tree struct {
	Hash    Hash
	Entries []TreeEntry
}

// Find returns the entry with the given name, if present.
func (t *Tree) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// BlobMetadata carries the derived attributes of a blob, available without
// fetching its contents.
type BlobMetadata struct {
	Size uint64
	SHA1 Hash
	Type EntryType
}
