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

package message

import (
	"bytes"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes message contents for the network.
type Codec interface {
	Encode(content interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

type contentKind uint8

const (
	kindValue contentKind = iota + 1
	kindError
	// kindNil carries no value. A msgpack nil inside a RawMessage decodes
	// as an empty slice.
	kindNil
)

type envelope struct {
	Kind  contentKind        `msgpack:"k"`
	Value msgpack.RawMessage `msgpack:"v"`
}

// MsgpackCodec encodes contents with msgpack. Arbitrary values decode as
// loosely typed interfaces, e.g. any integer decodes as int64 or uint64.
// ErrorMsg survives a round trip with its concrete type.
type MsgpackCodec struct{}

var _ Codec = MsgpackCodec{}

// Encode implements Codec.
func (MsgpackCodec) Encode(content interface{}) ([]byte, error) {
	env := envelope{Kind: kindValue}
	switch v := content.(type) {
	case nil:
		env.Kind = kindNil
		return marshalEnvelope(&env)
	case ErrorMsg:
		env.Kind = kindError
	case *ErrorMsg:
		env.Kind = kindError
		content = *v
	}
	value, err := msgpack.Marshal(content)
	if err != nil {
		return nil, cerrors.ErrEncodeFailed.Wrap(err).GenWithStackByArgs()
	}
	env.Value = value
	return marshalEnvelope(&env)
}

func marshalEnvelope(env *envelope) ([]byte, error) {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return nil, cerrors.ErrEncodeFailed.Wrap(err).GenWithStackByArgs()
	}
	return data, nil
}

// Decode implements Codec.
func (MsgpackCodec) Decode(data []byte) (interface{}, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, cerrors.ErrDecodeFailed.Wrap(err).GenWithStackByArgs()
	}
	switch env.Kind {
	case kindNil:
		return nil, nil
	case kindError:
		var e ErrorMsg
		if err := msgpack.Unmarshal(env.Value, &e); err != nil {
			return nil, cerrors.ErrDecodeFailed.Wrap(err).GenWithStackByArgs()
		}
		return e, nil
	case kindValue:
		if len(env.Value) == 0 {
			// typed nil pointers, maps and slices
			return nil, nil
		}
		dec := msgpack.NewDecoder(bytes.NewReader(env.Value))
		dec.UseLooseInterfaceDecoding(true)
		v, err := dec.DecodeInterfaceLoose()
		if err != nil {
			return nil, cerrors.ErrDecodeFailed.Wrap(err).GenWithStackByArgs()
		}
		return v, nil
	default:
		return nil, errors.Trace(cerrors.ErrDecodeFailed.GenWithStackByArgs())
	}
}
