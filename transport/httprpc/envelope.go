package httprpc

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/splitcache/command"
	"github.com/unkn0wn-root/splitcache/partition"
)

const contentType = "application/msgpack"

// ErrRemote wraps a failure reported by the remote chain that is not an availability error.
var ErrRemote = errors.New("httprpc: remote error")

type request struct {
	Source string           `msgpack:"src,omitempty"`
	Cmd    *command.Command `msgpack:"cmd"`
}

// response carries one command result. Which field is meaningful depends on the
// command kind, so decoding needs the kind of the request.
type response struct {
	Present bool              `msgpack:"p,omitempty"`
	Bytes   []byte            `msgpack:"b,omitempty"`
	OK      bool              `msgpack:"ok,omitempty"`
	Entry   *command.Entry    `msgpack:"e,omitempty"`
	Items   map[string][]byte `msgpack:"items,omitempty"`
	Keys    []string          `msgpack:"keys,omitempty"`
	Entries []command.Entry   `msgpack:"entries,omitempty"`
	Err     *remoteError      `msgpack:"err,omitempty"`
}

type remoteError struct {
	Unavailable bool     `msgpack:"unavail,omitempty"`
	Op          string   `msgpack:"op,omitempty"`
	Keys        []string `msgpack:"keys,omitempty"`
	Message     string   `msgpack:"msg"`
}

func encodeResult(v any, err error) response {
	var r response
	if err != nil {
		r.Err = &remoteError{Message: err.Error()}
		var ae *partition.AvailabilityError
		if errors.As(err, &ae) {
			r.Err.Unavailable = true
			r.Err.Op = ae.Op
			r.Err.Keys = ae.Keys
		}
		return r
	}
	switch x := v.(type) {
	case []byte:
		r.Present = x != nil
		r.Bytes = x
	case *command.Entry:
		r.Entry = x
	case map[string][]byte:
		r.Items = x
	case bool:
		r.OK = x
	case []string:
		r.Keys = x
	case []command.Entry:
		r.Entries = x
	}
	return r
}

// value rebuilds the typed result the local store would have returned for kind.
func (r response) value(kind command.Kind) any {
	switch kind {
	case command.Get, command.Put, command.Remove, command.ApplyDelta:
		if !r.Present {
			return []byte(nil)
		}
		if r.Bytes == nil {
			return []byte{}
		}
		return r.Bytes
	case command.GetEntry:
		return r.Entry
	case command.GetAll:
		if r.Items == nil {
			return map[string][]byte{}
		}
		return r.Items
	case command.Replace:
		return r.OK
	case command.KeySet:
		return r.Keys
	case command.EntrySet:
		return r.Entries
	}
	return nil
}

func (e *remoteError) err() error {
	if e.Unavailable {
		return partition.KeyUnavailable(e.Op, e.Keys...)
	}
	return fmt.Errorf("%w: %s", ErrRemote, e.Message)
}
