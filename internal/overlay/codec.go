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
	"encoding/binary"
	"fmt"
	"math"

	"checkoutfs/internal/common"
	"checkoutfs/internal/objectstore"
)

// Overlay record files start with a fixed-size header identifying the record
// kind. File records carry raw contents after the header; directory records
// carry a serialized listing. The header is fixed-size so file reads can
// translate logical offsets by adding HeaderLength.
const (
	HeaderLength  = 64
	headerVersion = 1
)

var (
	headerIdentifierDir  = [4]byte{'O', 'V', 'D', 'R'}
	headerIdentifierFile = [4]byte{'O', 'V', 'F', 'L'}
)

// Entry flag bits in serialized directory listings.
const (
	entryFlagMaterialized = 1 << 0
	entryFlagHasHash      = 1 << 1
)

// serializeHeader writes a record header into a fresh HeaderLength-byte
// buffer. Bytes past the version are reserved and zero.
func serializeHeader(identifier [4]byte) []byte {
	buf := make([]byte, HeaderLength)
	copy(buf[0:4], identifier[:])
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	return buf
}

// validateHeader checks the record header at the start of data. A short or
// mismatched header means the record is corrupt (or is a different record
// kind, which callers treat the same way).
func validateHeader(data []byte, identifier [4]byte) error {
	if len(data) < HeaderLength {
		return fmt.Errorf("%w: record truncated at %d bytes, header needs %d",
			common.ErrCorrupted, len(data), HeaderLength)
	}
	if [4]byte(data[0:4]) != identifier {
		return fmt.Errorf("%w: bad record identifier %q, want %q",
			common.ErrCorrupted, data[0:4], identifier[:])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != headerVersion {
		return fmt.Errorf("%w: unsupported record version %d", common.ErrCorrupted, version)
	}
	return nil
}

// serializeDirContents encodes a directory listing, header included.
//
// Body layout, all little-endian:
//
//	u32 entry count
//	per entry: u16 name length, name bytes, u32 mode, u64 inode number,
//	           u8 flags, then 20 hash bytes when flags has the hash bit
func serializeDirContents(contents *DirContents) ([]byte, error) {
	buf := serializeHeader(headerIdentifierDir)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(contents.Len()))
	for _, name := range contents.Names() {
		e, _ := contents.Get(name)
		if len(name) > math.MaxUint16 {
			return nil, fmt.Errorf("entry name too long: %d bytes", len(name))
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint32(buf, e.Mode)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Ino))
		var flags uint8
		if e.Materialized {
			flags |= entryFlagMaterialized
		}
		if e.Hash != nil {
			flags |= entryFlagHasHash
		}
		buf = append(buf, flags)
		if e.Hash != nil {
			buf = append(buf, e.Hash[:]...)
		}
	}
	return buf, nil
}

// deserializeDirContents decodes a directory listing record produced by
// serializeDirContents. Any structural damage surfaces as ErrCorrupted.
func deserializeDirContents(data []byte) (*DirContents, error) {
	if err := validateHeader(data, headerIdentifierDir); err != nil {
		return nil, err
	}
	body := data[HeaderLength:]
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: directory record missing entry count", common.ErrCorrupted)
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	body = body[4:]

	contents := NewDirContents()
	for i := uint32(0); i < count; i++ {
		if len(body) < 2 {
			return nil, truncatedEntryErr(i)
		}
		nameLen := int(binary.LittleEndian.Uint16(body[0:2]))
		body = body[2:]
		if len(body) < nameLen+4+8+1 {
			return nil, truncatedEntryErr(i)
		}
		name := string(body[:nameLen])
		body = body[nameLen:]
		e := DirEntry{
			Mode: binary.LittleEndian.Uint32(body[0:4]),
			Ino:  InodeNumber(binary.LittleEndian.Uint64(body[4:12])),
		}
		flags := body[12]
		body = body[13:]
		e.Materialized = flags&entryFlagMaterialized != 0
		if flags&entryFlagHasHash != 0 {
			if len(body) < objectstore.HashLength {
				return nil, truncatedEntryErr(i)
			}
			h := objectstore.Hash(body[:objectstore.HashLength])
			e.Hash = &h
			body = body[objectstore.HashLength:]
		}
		if name == "" {
			return nil, fmt.Errorf("%w: directory entry %d has empty name", common.ErrCorrupted, i)
		}
		if _, dup := contents.Get(name); dup {
			return nil, fmt.Errorf("%w: duplicate directory entry %q", common.ErrCorrupted, name)
		}
		contents.Set(name, e)
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after directory entries",
			common.ErrCorrupted, len(body))
	}
	return contents, nil
}

func truncatedEntryErr(i uint32) error {
	return fmt.Errorf("%w: directory record truncated in entry %d", common.ErrCorrupted, i)
}
