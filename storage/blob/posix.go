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
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorse-io/itemcf/common/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const uploadPrefix = ".upload-"

type POSIX struct {
	dir string
}

func NewPOSIX(dir string) *POSIX {
	return &POSIX{dir: dir}
}

// Open a file for reading. It returns an io.Reader that can be used to read the file's content.
func (p *POSIX) Open(name string) (io.ReadCloser, error) {
	fullPath := filepath.Join(p.dir, filepath.FromSlash(name))
	file, err := os.Open(fullPath)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound(err, name)
	}
	return file, err
}

// Create a new file for writing. The file is written under a temporary name and renamed once the
// writer is closed, so readers never observe a partial file.
func (p *POSIX) Create(name string) (io.WriteCloser, <-chan error, error) {
	fullPath := filepath.Join(p.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), os.ModePerm); err != nil {
		return nil, nil, errors.Trace(err)
	}
	file, err := os.CreateTemp(filepath.Dir(fullPath), uploadPrefix+"*")
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	w, done := pipeUpload(func(r io.Reader) error {
		_, err := io.Copy(file, r)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err == nil {
			err = os.Rename(file.Name(), fullPath)
		}
		if err != nil {
			_ = os.Remove(file.Name())
			log.Logger().Error("failed to write to file", zap.String("file", fullPath), zap.Error(err))
			return errors.Trace(err)
		}
		return nil
	})
	return w, done, nil
}

func (p *POSIX) List(prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(p.dir, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), uploadPrefix) {
			return nil
		}
		rel, err := filepath.Rel(p.dir, fullPath)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return filterSorted(names, prefix), nil
}

func (p *POSIX) Remove(name string) error {
	err := os.Remove(filepath.Join(p.dir, filepath.FromSlash(name)))
	if err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}
