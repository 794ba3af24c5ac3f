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

package errors

import (
	"github.com/pingcap/errors"
)

// protocolErrors are fatal to the connection they occur on.
var protocolErrors = []*errors.Error{
	ErrBASPInvalidHeader,
	ErrBASPVersionMismatch,
	ErrBASPUnexpectedMessage,
	ErrBASPInvalidPayload,
	ErrBASPAppIDMismatch,
	ErrBASPPayloadTooLarge,
}

// IsProtocolError returns true if err is caused by a malformed or
// unexpected BASP frame.
func IsProtocolError(err error) bool {
	for _, e := range protocolErrors {
		if Is(err, e) {
			return true
		}
	}
	return false
}

// Is returns true if the outermost normalized error in the chain of err
// is target. Unlike target.Equal it also matches errors created with
// target.Wrap.
func Is(err error, target *errors.Error) bool {
	code, ok := RFCCode(err)
	return ok && code == target.RFCCode()
}

// RFCCode returns the RFC error code of err if it is a normalized error.
func RFCCode(err error) (errors.RFCErrorCode, bool) {
	for err != nil {
		if terr, ok := err.(*errors.Error); ok {
			return terr.RFCCode(), true
		}
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		case interface{ Cause() error }:
			err = e.Cause()
		default:
			return "", false
		}
	}
	return "", false
}

// WrapError wraps err with rfcError if err is not already a normalized
// error, and returns nil if err is nil.
func WrapError(rfcError *errors.Error, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if _, ok := RFCCode(err); ok {
		return err
	}
	return rfcError.Wrap(err).GenWithStackByArgs(args...)
}
