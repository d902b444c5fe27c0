//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
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
//
package fwimage

import (
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

const (
	// FillByte is the value of erased flash; images are padded with it.
	FillByte = 0xff
)

// Image is an already linked firmware image. The data is never modified in
// place: padding produces a new Image.
type Image struct {
	Name string

	// Addr is the load address recorded in the source file (Intel HEX only).
	Addr    uint32
	HasAddr bool

	// Entry is the start address record, if any.
	Entry uint32

	data []byte
}

// Chunk is one fixed-size slice of an image, Offset is relative to the image start.
type Chunk struct {
	Index  int
	Offset uint32
	Data   []byte
}

func FromBytes(name string, data []byte) *Image {
	d := make([]byte, len(data))
	copy(d, data)
	return &Image{Name: name, data: d}
}

// Load reads a firmware file. Files with a .hex extension are parsed as Intel
// HEX, everything else is taken as a raw binary.
func Load(fname string) (*Image, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", fname)
	}
	name := filepath.Base(fname)
	switch strings.ToLower(filepath.Ext(fname)) {
	case ".hex", ".ihex":
		im, err := ParseHex(data)
		if err != nil {
			return nil, errors.Annotatef(err, "%s", fname)
		}
		im.Name = name
		return im, nil
	default:
		return &Image{Name: name, data: data}, nil
	}
}

func (im *Image) Data() []byte {
	return im.data
}

func (im *Image) Len() int {
	return len(im.data)
}

// PaddedLength returns size rounded up to a multiple of chunkSize.
func PaddedLength(size, chunkSize int) int {
	if chunkSize <= 0 {
		return size
	}
	return (size + chunkSize - 1) / chunkSize * chunkSize
}

// NumChunks returns the number of chunkSize pieces needed to cover size bytes.
func NumChunks(size, chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	return PaddedLength(size, chunkSize) / chunkSize
}

// Pad returns a copy of data right-filled with FillByte up to PaddedLength.
func Pad(data []byte, chunkSize int) []byte {
	res := make([]byte, PaddedLength(len(data), chunkSize))
	copy(res, data)
	for i := len(data); i < len(res); i++ {
		res[i] = FillByte
	}
	return res
}

// Pad returns a new image whose length is a multiple of chunkSize.
func (im *Image) Pad(chunkSize int) *Image {
	return &Image{
		Name:    im.Name,
		Addr:    im.Addr,
		HasAddr: im.HasAddr,
		Entry:   im.Entry,
		data:    Pad(im.data, chunkSize),
	}
}

// Chunks splits the image into consecutive chunkSize pieces. Only the last
// one may be shorter, and only if the image is not padded.
func (im *Image) Chunks(chunkSize int) []Chunk {
	var res []Chunk
	if chunkSize <= 0 {
		return nil
	}
	for i, off := 0, 0; off < len(im.data); i, off = i+1, off+chunkSize {
		end := off + chunkSize
		if end > len(im.data) {
			end = len(im.data)
		}
		res = append(res, Chunk{Index: i, Offset: uint32(off), Data: im.data[off:end]})
	}
	return res
}
