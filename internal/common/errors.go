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

package common

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidPath        = errors.New("invalid path")
	ErrExists             = errors.New("already exists")
	ErrNotDir             = errors.New("not a directory")
	ErrIsDir              = errors.New("is a directory")
	ErrNotEmpty           = errors.New("directory not empty")
	ErrReadOnly           = errors.New("read-only filesystem")
	ErrCorrupted          = errors.New("corrupted record")
	ErrFetchFailed        = errors.New("object fetch failed")
	ErrNotInitialized     = errors.New("not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrClosed             = errors.New("closed")
)
