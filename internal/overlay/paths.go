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

package overlay

import (
	"fmt"
	"strconv"
	"strings"
)

// ShardCount is the number of top-level shard directories records are spread
// across, keeping per-directory entry counts manageable on large checkouts.
const ShardCount = 256

// FilePath returns the overlay-relative path of the record for ino. The
// shard directory name is the low byte of the inode number in hex; the file
// name is the full inode number in decimal.
//
//	1    -> "01/1"
//	15   -> "0f/15"
//	16   -> "10/16"
//	1234 -> "d2/1234"
func FilePath(ino InodeNumber) string {
	return fmt.Sprintf("%02x/%d", uint64(ino)%ShardCount, uint64(ino))
}

// shardName returns the shard directory name for ino.
func shardName(ino InodeNumber) string {
	return fmt.Sprintf("%02x", uint64(ino)%ShardCount)
}

// parseShardName parses a two-hex-digit shard directory name. Non-shard
// directory names (the info file, the lock file, temp files) are rejected.
func parseShardName(name string) (uint64, bool) {
	if len(name) != 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 16, 8)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseInodeFileName parses a decimal record file name within a shard,
// verifying it actually belongs to the shard. Stray files are skipped by
// returning false.
func parseInodeFileName(shard uint64, name string) (InodeNumber, bool) {
	if name == "" || strings.HasPrefix(name, ".") {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	if v%ShardCount != shard {
		return 0, false
	}
	return InodeNumber(v), true
}
