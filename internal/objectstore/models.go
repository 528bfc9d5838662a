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

import "github.com/uptrace/bun"

// Bun ORM models for the local store tables.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// TreeModel represents the trees table. The entry rows live in tree_entries;
// a row here means the whole tree is cached.
type TreeModel struct {
	bun.BaseModel `bun:"table:trees"`

	Hash string `bun:"hash,pk"`
}

// TreeEntryModel represents the tree_entries table. Idx preserves the
// entry order of the original tree.
type TreeEntryModel struct {
	bun.BaseModel `bun:"table:tree_entries"`

	TreeHash  string `bun:"tree_hash,pk"`
	Idx       int64  `bun:"idx,pk"`
	Name      string `bun:"name,notnull"`
	Type      int64  `bun:"type,notnull"`
	EntryHash string `bun:"entry_hash,notnull"`
}

// BlobMetadataModel represents the blob_metadata table.
type BlobMetadataModel struct {
	bun.BaseModel `bun:"table:blob_metadata"`

	Hash string `bun:"hash,pk"`
	Size int64  `bun:"size,notnull"`
	SHA1 string `bun:"sha1,notnull"`
	Type int64  `bun:"type,notnull"`
}
