// Copyright 2026 gorse Project Authors
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

package dataset

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/gorse-io/itemcf/storage/blob"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putObject(t *testing.T, store blob.Store, name, content string) {
	w, done, err := store.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, <-done)
}

func getObject(t *testing.T, store blob.Store, name string) string {
	r, err := store.Open(name)
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(content)
}

func TestPartName(t *testing.T) {
	assert.Equal(t, "scores/part-r-00000", PartName("scores", 0))
	assert.Equal(t, "a/b/part-r-00012", PartName("a/b", 12))
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	partitions := [][]CoOccurrence{
		{{"10", "10", 2}, {"10", "20", 1}},
		nil,
		{{"20", "10", 1}},
	}
	exist, err := Exists(store, "cooccurrence")
	require.NoError(t, err)
	assert.False(t, exist)

	err = Write(ctx, store, "cooccurrence", partitions, 2)
	require.NoError(t, err)
	exist, err = Exists(store, "cooccurrence")
	require.NoError(t, err)
	assert.True(t, exist)

	names, err := store.List("cooccurrence/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cooccurrence/_SUCCESS",
		"cooccurrence/part-r-00000",
		"cooccurrence/part-r-00001",
		"cooccurrence/part-r-00002",
	}, names)
	assert.Equal(t, "10:10\t2\n10:20\t1\n", getObject(t, store, "cooccurrence/part-r-00000"))
	assert.Empty(t, getObject(t, store, "cooccurrence/part-r-00001"))

	pairs, err := Read(ctx, store, "cooccurrence", ParseCoOccurrence, 2)
	require.NoError(t, err)
	assert.Equal(t, []CoOccurrence{{"10", "10", 2}, {"10", "20", 1}, {"20", "10", 1}}, pairs)

	// rewrite with fewer partitions
	err = Write(ctx, store, "cooccurrence", [][]CoOccurrence{{{"30", "30", 1}}}, 2)
	require.NoError(t, err)
	pairs, err = Read(ctx, store, "cooccurrence", ParseCoOccurrence, 2)
	require.NoError(t, err)
	assert.Equal(t, []CoOccurrence{{"30", "30", 1}}, pairs)
}

func TestReadIncomplete(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	_, err := Read(ctx, store, "scores", ParseScore, 1)
	assert.True(t, errors.Is(err, errors.NotFound))

	// parts without marker
	putObject(t, store, PartName("scores", 0), "1\t30:5\n")
	_, err = Read(ctx, store, "scores", ParseScore, 1)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestReadMalformed(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	putObject(t, store, PartName("scores", 0), "1\t30:5\n1\t40\n")
	putObject(t, store, "scores/_SUCCESS", "")
	_, err := Read(ctx, store, "scores", ParseScore, 1)
	assert.ErrorContains(t, err, "scores/part-r-00000:2")
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	err := Write(ctx, store, "scores", [][]Score{{{"1", "30", 5}}}, 1)
	require.NoError(t, err)
	putObject(t, store, "scores_other/part-r-00000", "1\t30:5\n")
	require.NoError(t, Remove(store, "scores"))
	names, err := store.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"scores_other/part-r-00000"}, names)
	// remove twice
	assert.NoError(t, Remove(store, "scores"))
}

func TestReadRaw(t *testing.T) {
	ctx := context.Background()
	store := blob.NewPOSIX(t.TempDir())
	putObject(t, store, "ratings.csv", "1,10,5.0\r\n1,20,3.0\n\n2,10,4.0\n")
	putObject(t, store, "ratings/part-00001", "2,30,5.0\n")
	putObject(t, store, "ratings/part-00000", "1,10,5.0\n")
	putObject(t, store, "ratings/_SUCCESS", "")
	putObject(t, store, "ratings/.hidden", "x\n")
	putObject(t, store, "ratings_old/part-00000", "9,9,9\n")

	// single object
	lines, err := ReadRaw(ctx, store, "ratings.csv", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1,10,5.0", "1,20,3.0", "2,10,4.0"}, lines)

	// prefix
	lines, err = ReadRaw(ctx, store, "ratings", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1,10,5.0", "2,30,5.0"}, lines)
	lines, err = ReadRaw(ctx, store, "ratings/", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1,10,5.0", "2,30,5.0"}, lines)

	// missing
	_, err = ReadRaw(ctx, store, "missing", 2)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestScanLines(t *testing.T) {
	var lines []string
	var numbers []int
	err := scanLines(strings.NewReader("a\r\n\nb\n  \nc"), func(lineNumber int, line string) error {
		lines = append(lines, line)
		numbers = append(numbers, lineNumber)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
	assert.Equal(t, []int{0, 2, 4}, numbers)

	err = scanLines(strings.NewReader("a\nb"), func(int, string) error {
		return errors.New("stop")
	})
	assert.ErrorContains(t, err, "stop")
}
