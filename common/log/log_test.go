// Copyright 2022 gorse Project Authors
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

package log

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	saved := logger
	defer func() { logger = saved }()
	path := filepath.Join(t.TempDir(), "logs", "itemcf.log")
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flagSet)
	assert.NoError(t, flagSet.Parse([]string{"--log-path", path}))

	SetLogger(flagSet, true)
	Logger().Info("hello")
	_, err := os.Stat(path)
	assert.NoError(t, err)

	SetLogger(flagSet, false)
	Logger().Info("hello")
	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(content), "hello")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "abc", Truncate("abc", 3))
	// multi-byte runes are never split
	assert.Equal(t, "ééé...", Truncate("ééééé", 3))
	assert.Equal(t, "ééééé", Truncate("ééééé", 5))
	assert.True(t, utf8.ValidString(Truncate("日本語テキスト", 2)))
}
