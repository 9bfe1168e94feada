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

package heap

import "container/heap"

// _heap is a min-heap under less.
type _heap[T any] struct {
	elems []T
	less  func(a, b T) bool
}

func (h *_heap[T]) Len() int           { return len(h.elems) }
func (h *_heap[T]) Less(i, j int) bool { return h.less(h.elems[i], h.elems[j]) }
func (h *_heap[T]) Swap(i, j int)      { h.elems[i], h.elems[j] = h.elems[j], h.elems[i] }
func (h *_heap[T]) Push(x any)         { h.elems = append(h.elems, x.(T)) }

func (h *_heap[T]) Pop() any {
	n := len(h.elems)
	x := h.elems[n-1]
	h.elems = h.elems[:n-1]
	return x
}

// TopKFilter keeps the k greatest elements under less. The minimum sits at the root so
// overflow evicts the least element.
type TopKFilter[T any] struct {
	_heap[T]
	k int
}

// NewTopKFilter creates a top k filter. less must be a strict weak order; elements that compare
// equal are evicted in unspecified order, so callers wanting deterministic output break ties in less.
func NewTopKFilter[T any](k int, less func(a, b T) bool) *TopKFilter[T] {
	if k < 0 {
		k = 0
	}
	return &TopKFilter[T]{_heap: _heap[T]{less: less}, k: k}
}

// Push pushes the element x onto the heap and evicts the minimum if the heap outgrows k.
// The complexity is O(log k).
func (filter *TopKFilter[T]) Push(x T) {
	heap.Push(&filter._heap, x)
	if filter.Len() > filter.k {
		heap.Pop(&filter._heap)
	}
}

// PopAll pops all items in the filter with decreasing order.
func (filter *TopKFilter[T]) PopAll() []T {
	elems := make([]T, filter.Len())
	for i := len(elems) - 1; i >= 0; i-- {
		elems[i] = heap.Pop(&filter._heap).(T)
	}
	return elems
}
