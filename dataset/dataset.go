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
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gorse-io/itemcf/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	// SuccessMarker is written after every part of a dataset.
	SuccessMarker = "_SUCCESS"
	partPrefix    = "part-r-"
	maxLineSize   = 64 * 1024 * 1024
)

// PartName returns the object name of a partition of a dataset.
func PartName(dataset string, partition int) string {
	return fmt.Sprintf("%s/%s%05d", dataset, partPrefix, partition)
}

// Exists checks whether a dataset was completely written.
func Exists(store blob.Store, dataset string) (bool, error) {
	names, err := store.List(path.Join(dataset, SuccessMarker))
	if err != nil {
		return false, errors.Trace(err)
	}
	return lo.Contains(names, path.Join(dataset, SuccessMarker)), nil
}

// Write replaces a dataset by one part per partition followed by the success marker. Parts are
// uploaded by at most numJobs goroutines.
func Write[T fmt.Stringer](ctx context.Context, store blob.Store, dataset string, partitions [][]T, numJobs int) error {
	if err := Remove(store, dataset); err != nil {
		return errors.Trace(err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(numJobs, 1))
	for i, records := range partitions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			return writeLines(store, PartName(dataset, i), func(w *bufio.Writer) error {
				for _, record := range records {
					if _, err := w.WriteString(record.String()); err != nil {
						return errors.Trace(err)
					}
					if err := w.WriteByte('\n'); err != nil {
						return errors.Trace(err)
					}
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Annotatef(err, "write dataset %s", dataset)
	}
	return writeLines(store, path.Join(dataset, SuccessMarker), func(*bufio.Writer) error { return nil })
}

func writeLines(store blob.Store, name string, write func(w *bufio.Writer) error) error {
	w, done, err := store.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	buf := bufio.NewWriter(w)
	if err = write(buf); err == nil {
		err = buf.Flush()
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if uploadErr := <-done; err == nil {
		err = uploadErr
	}
	return errors.Trace(err)
}

// Remove deletes every object of a dataset.
func Remove(store blob.Store, dataset string) error {
	names, err := store.List(dataset + "/")
	if err != nil {
		return errors.Trace(err)
	}
	// remove the marker first so a half removed dataset is never complete
	names = lo.Filter(names, func(name string, _ int) bool {
		return name != path.Join(dataset, SuccessMarker)
	})
	if err = store.Remove(path.Join(dataset, SuccessMarker)); err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	for _, name := range names {
		if err = store.Remove(name); err != nil && !errors.Is(err, errors.NotFound) {
			return errors.Trace(err)
		}
	}
	return nil
}

// Read loads every part of a complete dataset in part order.
func Read[T any](ctx context.Context, store blob.Store, dataset string, parse func(string) (T, error), numJobs int) ([]T, error) {
	exist, err := Exists(store, dataset)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !exist {
		return nil, errors.NotFoundf("dataset %s", dataset)
	}
	names, err := store.List(dataset + "/" + partPrefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	parts := make([][]T, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(numJobs, 1))
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			return readLines(store, name, func(lineNumber int, line string) error {
				record, err := parse(line)
				if err != nil {
					return errors.Annotatef(err, "%s:%d", name, lineNumber+1)
				}
				parts[i] = append(parts[i], record)
				return nil
			})
		})
	}
	if err = g.Wait(); err != nil {
		return nil, errors.Annotatef(err, "read dataset %s", dataset)
	}
	return lo.Flatten(parts), nil
}

// ReadRaw loads raw lines from an object or from every object under a prefix. Hidden objects
// (starting with `_` or `.`) are skipped.
func ReadRaw(ctx context.Context, store blob.Store, name string, numJobs int) ([]string, error) {
	names, err := store.List(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	dir := strings.TrimSuffix(name, "/") + "/"
	names = lo.Filter(names, func(n string, _ int) bool {
		if n != name && !strings.HasPrefix(n, dir) {
			return false
		}
		base := path.Base(n)
		return !strings.HasPrefix(base, "_") && !strings.HasPrefix(base, ".")
	})
	if len(names) == 0 {
		return nil, errors.NotFoundf("input %s", name)
	}
	parts := make([][]string, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(numJobs, 1))
	for i, n := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			return readLines(store, n, func(_ int, line string) error {
				parts[i] = append(parts[i], line)
				return nil
			})
		})
	}
	if err = g.Wait(); err != nil {
		return nil, errors.Annotatef(err, "read input %s", name)
	}
	return lo.Flatten(parts), nil
}

// readLines calls handler for every line of an object. Blank lines are skipped and carriage
// returns are trimmed.
func readLines(store blob.Store, name string, handler func(lineNumber int, line string) error) error {
	r, err := store.Open(name)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	return scanLines(r, handler)
}

func scanLines(r io.Reader, handler func(lineNumber int, line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNumber := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) != "" {
			if err := handler(lineNumber, line); err != nil {
				return errors.Trace(err)
			}
		}
		lineNumber++
	}
	return errors.Trace(scanner.Err())
}
