// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPOSIX(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blob")
	testStore(t, NewPOSIX(dir))

	// no temporary files are left behind
	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), uploadPrefix)
	}
}

func TestPOSIXListMissingDir(t *testing.T) {
	names, err := NewPOSIX(filepath.Join(t.TempDir(), "missing")).List("")
	assert.NoError(t, err)
	assert.Empty(t, names)
}
