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
	"strings"

	"checkoutfs/internal/common"
)

// DumpFilter decides whether a path is omitted from DumpInodes output.
// Skipping a directory prunes its whole subtree.
type DumpFilter func(path string, isDir bool) bool

// DumpInodes renders the overlay records reachable from root in a
// human-readable form, depth-first in listing order:
//
//	/
//	  Inode number: 1
//	  Entries (2 total):
//	            2 f  644 file_a
//	            3 d  755 subdir
//	subdir
//	  Inode number: 3
//	  Entries (0 total):
//
// Directories whose record is missing get a block with no entry section.
// A nil skip dumps everything.
func (o *Overlay) DumpInodes(root InodeNumber, skip DumpFilter) (string, error) {
	if err := o.ensureInitialized(); err != nil {
		return "", err
	}

	type frame struct {
		path string
		ino  InodeNumber
	}
	var b strings.Builder
	stack := []frame{{path: "", ino: root}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		display := fr.path
		if display == "" {
			display = "/"
		}
		fmt.Fprintf(&b, "%s\n  Inode number: %d\n", display, fr.ino)

		contents, err := o.readDirRecord(fr.ino)
		if err != nil {
			return "", err
		}
		if contents == nil {
			continue
		}

		var kept []string
		var subdirs []frame
		for _, name := range contents.Names() {
			e, _ := contents.Get(name)
			childPath := common.JoinPath(fr.path, name)
			if skip != nil && skip(childPath, e.IsDir()) {
				continue
			}
			kept = append(kept, name)
			if e.IsDir() {
				subdirs = append(subdirs, frame{path: childPath, ino: e.Ino})
			}
		}

		fmt.Fprintf(&b, "  Entries (%d total):\n", len(kept))
		for _, name := range kept {
			e, _ := contents.Get(name)
			fmt.Fprintf(&b, "  %11d %s %4o %s\n", uint64(e.Ino), e.Dtype(), e.Perms(), name)
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return b.String(), nil
}
