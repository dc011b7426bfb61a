// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package tickerr defines the error kinds shared by the pipeline stages.
//
// IO and Decode errors are fatal to one file, Parse errors to one line, and
// Schema errors to the whole run. Callers classify with errors.Is against the
// Err* sentinels or errors.As against *Error.
package tickerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindIO Kind = iota + 1
	KindDecode
	KindParse
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IOError"
	case KindDecode:
		return "DecodeError"
	case KindParse:
		return "ParseError"
	case KindSchema:
		return "SchemaError"
	default:
		return "UnknownError"
	}
}

// Sentinels matched by errors.Is for any *Error of the same kind.
var (
	ErrIO     = &Error{Kind: KindIO}
	ErrDecode = &Error{Kind: KindDecode}
	ErrParse  = &Error{Kind: KindParse}
	ErrSchema = &Error{Kind: KindSchema}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "open", "read", "parse", "flush"
	Path string // file the error belongs to, if any
	Line int64  // 1-based input line, 0 when not line specific
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Path != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " line %d", e.Line)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Line == 0 && t.Kind == e.Kind
}

// IO returns an IOError for op on path.
func IO(op, path string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

// Decode returns a DecodeError for op on path.
func Decode(op, path string, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Path: path, Err: err}
}

// Parse returns a ParseError for the given line.
func Parse(line int64, format string, args ...any) *Error {
	return &Error{Kind: KindParse, Op: "parse", Line: line, Err: fmt.Errorf(format, args...)}
}

// Schema returns a SchemaError.
func Schema(format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Op: "config", Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
