// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package node

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/uuid"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

const (
	// HostIDSize is the size of a host id in bytes.
	HostIDSize = sha1.Size
	// Size is the size of a serialized ID.
	Size = 4 + HostIDSize
)

// ID identifies a runtime instance across the network.
type ID struct {
	ProcessID uint32
	HostID    [HostIDSize]byte
}

// New generates the ID of the running process. The host id mixes the
// hostname with a random uuid so that two runtimes in one process get
// distinct ids.
func New() ID {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	h := sha1.New()
	h.Write([]byte(hostname))
	h.Write([]byte(uuid.New().String()))

	id := ID{ProcessID: uint32(os.Getpid())}
	copy(id.HostID[:], h.Sum(nil))
	return id
}

// IsZero returns true if id is the invalid node id.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare returns an integer comparing two ids, ordering by host id first.
func (id ID) Compare(other ID) int {
	if c := bytes.Compare(id.HostID[:], other.HostID[:]); c != 0 {
		return c
	}
	switch {
	case id.ProcessID < other.ProcessID:
		return -1
	case id.ProcessID > other.ProcessID:
		return 1
	}
	return 0
}

// String renders the id as "<hex host id>#<process id>".
func (id ID) String() string {
	if id.IsZero() {
		return "invalid-node"
	}
	return fmt.Sprintf("%s#%d", hex.EncodeToString(id.HostID[:]), id.ProcessID)
}

// AppendBinary appends the big-endian binary form of id to buf.
func (id ID) AppendBinary(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, id.ProcessID)
	return append(buf, id.HostID[:]...)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (id ID) MarshalBinary() ([]byte, error) {
	return id.AppendBinary(make([]byte, 0, Size)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (id *ID) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return cerrors.ErrBASPInvalidPayload.GenWithStackByArgs(
			fmt.Sprintf("node id needs %d bytes, got %d", Size, len(data)))
	}
	id.ProcessID = binary.BigEndian.Uint32(data[:4])
	copy(id.HostID[:], data[4:])
	return nil
}
