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

// Package cache holds the process-wide cache kill-switch for checkoutfs.
//
// The object store keeps a local SQLite cache of fetched trees and blob
// metadata. Disabling it forces every resolution through the backing store,
// which is useful for isolating cache-related bugs.
package cache

import "os"

// Disabled controls whether all caching mechanisms are disabled.
// Set via CHECKOUTFS_CACHE=0 environment variable.
// When true:
// - ObjectStore reads bypass the local store (always a miss)
// - ObjectStore writes to the local store are no-ops
var Disabled = os.Getenv("CHECKOUTFS_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}
