package wire

import (
	"fmt"

	"shardfs/pkg/fserrors"
)

// Op is the single-byte tag that opens every router -> node request.
type Op byte

const (
	OpStore   Op = 'U'
	OpFetch   Op = 'D'
	OpDelete  Op = 'R'
	OpArchive Op = 'T'
	OpList    Op = 'L'
)

func (op Op) String() string {
	switch op {
	case OpStore:
		return "store"
	case OpFetch:
		return "fetch"
	case OpDelete:
		return "delete"
	case OpArchive:
		return "archive"
	case OpList:
		return "list"
	default:
		return fmt.Sprintf("op(%#x)", byte(op))
	}
}

// Reply status bytes.
const (
	StatusOK    int8 = 1
	StatusEmpty int8 = 0 // list only: no entries, or the node could not list
	StatusFail  int8 = -1
)

// Request is one decoded router -> node request. Path is set for store,
// fetch, delete and list; Type for archive; Content for store.
type Request struct {
	Op      Op
	Path    string
	Type    string
	Content []byte
}

// WriteRequest encodes req in its operation's message shape.
func WriteRequest(w *Writer, req Request) error {
	w.Byte(byte(req.Op))
	switch req.Op {
	case OpStore:
		w.String(req.Path)
		w.Content(req.Content)
	case OpFetch, OpDelete, OpList:
		w.String(req.Path)
	case OpArchive:
		w.String(req.Type)
	default:
		return fmt.Errorf("%w: cannot encode %s", fserrors.ErrProtocol, req.Op)
	}
	return w.Flush()
}

// ReadRequest decodes the tag and the body that follows it.
func ReadRequest(r *Reader) (Request, error) {
	tag, err := r.Byte()
	if err != nil {
		return Request{}, err
	}

	req := Request{Op: Op(tag)}
	switch req.Op {
	case OpStore:
		if req.Path, err = r.String(MaxPathLen); err != nil {
			return Request{}, err
		}
		if req.Content, err = r.Content(); err != nil {
			return Request{}, err
		}
	case OpFetch, OpDelete, OpList:
		if req.Path, err = r.String(MaxPathLen); err != nil {
			return Request{}, err
		}
	case OpArchive:
		if req.Type, err = r.String(MaxPathLen); err != nil {
			return Request{}, err
		}
	default:
		return Request{}, fmt.Errorf("%w: unknown operation tag %#x", fserrors.ErrProtocol, tag)
	}
	return req, nil
}

// WriteFailure sends status -1 followed by the failure kind and message.
func WriteFailure(w *Writer, f *fserrors.Failure) error {
	w.Int8(StatusFail)
	w.Byte(byte(f.Kind))
	w.String(f.Msg)
	return w.Flush()
}

// WriteMessage is the store/delete success reply.
func WriteMessage(w *Writer, msg string) error {
	w.Int8(StatusOK)
	w.String(msg)
	return w.Flush()
}

// WriteContent is the fetch/archive success reply.
func WriteContent(w *Writer, content []byte) error {
	w.Int8(StatusOK)
	w.Content(content)
	return w.Flush()
}

// WriteList sends the listing reply; no names is status 0.
func WriteList(w *Writer, names []string) error {
	if len(names) == 0 {
		w.Int8(StatusEmpty)
		return w.Flush()
	}
	w.Int8(StatusOK)
	w.Uint32(uint32(len(names)))
	for _, name := range names {
		w.String(name)
	}
	return w.Flush()
}

// readStatus reads the status byte; a failure reply is returned as error.
func readStatus(r *Reader) (int8, error) {
	status, err := r.Int8()
	if err != nil {
		return 0, err
	}
	if status != StatusFail {
		return status, nil
	}
	return 0, readFailure(r)
}

func readFailure(r *Reader) error {
	kind, err := r.Byte()
	if err != nil {
		return err
	}
	msg, err := r.String(MaxMessageLen)
	if err != nil {
		return err
	}
	k := fserrors.Kind(kind)
	if !k.Valid() {
		return fmt.Errorf("%w: unknown failure kind %d", fserrors.ErrProtocol, kind)
	}
	return &fserrors.Failure{Kind: k, Msg: msg}
}

// ReadMessage decodes a store/delete reply.
func ReadMessage(r *Reader) (string, error) {
	status, err := readStatus(r)
	if err != nil {
		return "", err
	}
	if status != StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", fserrors.ErrProtocol, status)
	}
	return r.String(MaxMessageLen)
}

// ReadContent decodes a fetch/archive reply.
func ReadContent(r *Reader) ([]byte, error) {
	status, err := readStatus(r)
	if err != nil {
		return nil, err
	}
	if status != StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", fserrors.ErrProtocol, status)
	}
	return r.Content()
}

// ReadList decodes a list reply. Status 0 yields no names and no error.
func ReadList(r *Reader) ([]string, error) {
	status, err := r.Int8()
	if err != nil {
		return nil, err
	}
	switch status {
	case StatusEmpty:
		return nil, nil
	case StatusOK:
	default:
		return nil, fmt.Errorf("%w: unexpected list status %d", fserrors.ErrProtocol, status)
	}

	count, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if count > MaxListCount {
		return nil, fmt.Errorf("%w: list count %d exceeds %d", fserrors.ErrProtocol, count, MaxListCount)
	}
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.String(MaxPathLen)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
