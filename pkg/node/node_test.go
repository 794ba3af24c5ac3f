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
	"os"
	"strings"
	"testing"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewIsUnique(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	require.False(t, a.IsZero())
	require.NotEqual(t, a, b)
	require.Equal(t, uint32(os.Getpid()), a.ProcessID)
	require.NotEqual(t, 0, a.Compare(b))
	require.Equal(t, -b.Compare(a), a.Compare(b))
	require.Equal(t, 0, a.Compare(a))
}

func TestString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "invalid-node", ID{}.String())
	id := ID{ProcessID: 42}
	id.HostID[0] = 0xab
	s := id.String()
	require.True(t, strings.HasPrefix(s, "ab00"))
	require.True(t, strings.HasSuffix(s, "#42"))
}

func TestBinary(t *testing.T) {
	t.Parallel()

	id := New()
	data, err := id.MarshalBinary()
	require.Nil(t, err)
	require.Len(t, data, Size)

	var decoded ID
	require.Nil(t, decoded.UnmarshalBinary(data))
	require.Equal(t, id, decoded)

	err = decoded.UnmarshalBinary(data[:Size-1])
	require.True(t, cerrors.Is(err, cerrors.ErrBASPInvalidPayload))
}
