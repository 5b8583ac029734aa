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

package grpcnet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype frames travel under
// ("application/grpc+halo").
const codecName = "halo"

// headerSize is the encoded size of a frame without payload: job id, source
// rank and tag.
const headerSize = 16 + 4 + 4

// frame is one message on the wire. The empty frame returned at the end of a
// stream acknowledges that every frame before it was delivered.
type frame struct {
	Job     uuid.UUID
	Src     int32
	Tag     int32
	Payload []byte
}

type frameCodec struct{}

func init() {
	encoding.RegisterCodec(frameCodec{})
}

func (frameCodec) Name() string { return codecName }

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("grpcnet: cannot marshal %T", v)
	}
	buf := make([]byte, headerSize+len(f.Payload))
	copy(buf, f.Job[:])
	binary.BigEndian.PutUint32(buf[16:], uint32(f.Src))
	binary.BigEndian.PutUint32(buf[20:], uint32(f.Tag))
	copy(buf[headerSize:], f.Payload)
	return buf, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("grpcnet: cannot unmarshal into %T", v)
	}
	if len(data) < headerSize {
		return fmt.Errorf("grpcnet: %d byte frame is shorter than its header", len(data))
	}
	copy(f.Job[:], data[:16])
	f.Src = int32(binary.BigEndian.Uint32(data[16:]))
	f.Tag = int32(binary.BigEndian.Uint32(data[20:]))
	f.Payload = bytes.Clone(data[headerSize:])
	return nil
}
