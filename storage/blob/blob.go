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

package blob

import (
	"io"
	"path"
	"sort"
	"strings"

	"github.com/gorse-io/itemcf/config"
	"github.com/juju/errors"
)

// Store is a flat namespace of named objects. Names use `/` as separator.
type Store interface {
	// Open an object for reading.
	Open(name string) (io.ReadCloser, error)
	// Create an object for writing. The returned channel receives the result of the upload once the
	// writer is closed and is then closed itself.
	Create(name string) (io.WriteCloser, <-chan error, error)
	// List names with the given prefix in ascending order.
	List(prefix string) ([]string, error)
	// Remove an object.
	Remove(name string) error
}

// Open creates the store described by the storage configuration.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case config.StoragePOSIX, "":
		return NewPOSIX(cfg.Dir), nil
	case config.StorageS3:
		return NewS3(cfg.S3)
	case config.StorageGCS:
		return NewGCS(cfg.GCS)
	case config.StorageAzure:
		return NewAzureBlob(cfg.Azure)
	}
	return nil, errors.NotSupportedf("storage type %q", cfg.Type)
}

// joinKey joins an object prefix and a name while keeping a trailing separator.
func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	key := path.Join(prefix, name)
	if strings.HasSuffix(name, "/") && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return key
}

// trimKey strips the store prefix from a full key.
func trimKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	key = strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/"))
	return strings.TrimPrefix(key, "/")
}

func filterSorted(names []string, prefix string) []string {
	result := make([]string, 0, len(names))
	for _, name := range names {
		if name != "" && strings.HasPrefix(name, prefix) {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// pipeUpload streams everything written to the returned writer into upload, which runs in its own
// goroutine. A failed upload closes the pipe so that later writes fail too.
func pipeUpload(upload func(r io.Reader) error) (io.WriteCloser, <-chan error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := upload(pr)
		if err != nil {
			_ = pr.CloseWithError(err)
		} else {
			// drain in case the uploader stopped early
			_, _ = io.Copy(io.Discard, pr)
		}
		done <- err
	}()
	return pw, done
}
