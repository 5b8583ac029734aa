// Copyright 2025 go-highway Authors
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

package stencil

import (
	"fmt"

	"github.com/ajroetker/go-halo/stencil/comm"
	"github.com/ajroetker/go-halo/stencil/grid"
	"github.com/ajroetker/go-halo/stencil/image"
)

// Linearize packs img into one buffer holding every rank's tile, row-major,
// in rank order. The block of rank r starts at comm.Displacements(l.Counts())[r].
func Linearize(img *image.Gray, l *grid.Layout) ([]byte, error) {
	if img.Width() != l.Width || img.Height() != l.Height {
		return nil, fmt.Errorf("stencil: %dx%d image does not match %dx%d layout",
			img.Width(), img.Height(), l.Width, l.Height)
	}
	counts := l.Counts()
	displs := comm.Displacements(counts)
	buf := make([]byte, l.Width*l.Height)
	for rank := range l.Workers() {
		block := buf[displs[rank] : displs[rank]+counts[rank]]
		if err := img.CopyRect(l.Rect(rank), block); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Delinearize is the inverse of Linearize.
func Delinearize(buf []byte, l *grid.Layout) (*image.Gray, error) {
	if len(buf) != l.Width*l.Height {
		return nil, fmt.Errorf("stencil: %d bytes cannot fill a %dx%d layout", len(buf), l.Width, l.Height)
	}
	counts := l.Counts()
	displs := comm.Displacements(counts)
	img := image.NewGray(l.Width, l.Height)
	for rank := range l.Workers() {
		block := buf[displs[rank] : displs[rank]+counts[rank]]
		if err := img.PasteRect(l.Rect(rank), block); err != nil {
			return nil, err
		}
	}
	return img, nil
}
