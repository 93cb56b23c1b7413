package wire

import (
	"bufio"
	"fmt"
	"strings"

	"shardfs/pkg/fserrors"
)

// Client-facing replies open with a 64-bit status: 1 success, -1 failure.
// Failure and success messages carry the original one-letter tags.
const (
	ClientOK   int64 = 1
	ClientFail int64 = -1

	TagSuccess = "S"
	TagError   = "E"

	MaxCommandLen = 8 << 10
)

func WriteClientFailure(w *Writer, f *fserrors.Failure) error {
	w.Int64(ClientFail)
	w.Byte(byte(f.Kind))
	w.String(TagError + f.Msg)
	return w.Flush()
}

func WriteClientMessage(w *Writer, msg string) error {
	w.Int64(ClientOK)
	w.String(TagSuccess + msg)
	return w.Flush()
}

func WriteClientContent(w *Writer, content []byte) error {
	w.Int64(ClientOK)
	w.Content(content)
	return w.Flush()
}

// WriteClientList sends the merged listing: count, then bare names.
func WriteClientList(w *Writer, names []string) error {
	w.Int64(ClientOK)
	w.Uint32(uint32(len(names)))
	for _, name := range names {
		w.String(name)
	}
	return w.Flush()
}

func readClientStatus(r *Reader) error {
	status, err := r.Int64()
	if err != nil {
		return err
	}
	switch status {
	case ClientOK:
		return nil
	case ClientFail:
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
		return &fserrors.Failure{Kind: k, Msg: strings.TrimPrefix(msg, TagError)}
	default:
		return fmt.Errorf("%w: unexpected reply status %d", fserrors.ErrProtocol, status)
	}
}

func ReadClientMessage(r *Reader) (string, error) {
	if err := readClientStatus(r); err != nil {
		return "", err
	}
	msg, err := r.String(MaxMessageLen)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(msg, TagSuccess), nil
}

func ReadClientContent(r *Reader) ([]byte, error) {
	if err := readClientStatus(r); err != nil {
		return nil, err
	}
	return r.Content()
}

func ReadClientList(r *Reader) ([]string, error) {
	if err := readClientStatus(r); err != nil {
		return nil, err
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

// WriteCommand sends one command line.
func WriteCommand(w *Writer, line string) error {
	if w.err == nil {
		if _, err := w.w.WriteString(line + "\n"); err != nil {
			w.err = fmt.Errorf("%w: write: %w", fserrors.ErrTransport, err)
		}
	}
	return w.Flush()
}

// WriteUpload sends the content that follows a store command.
func WriteUpload(w *Writer, content []byte) error {
	w.Content(content)
	return w.Flush()
}

// ReadCommand reads one newline-terminated command line. A missing final
// newline at EOF still yields the line.
func ReadCommand(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		sb.Write(chunk)
		if sb.Len() > MaxCommandLen {
			return "", fmt.Errorf("%w: command line longer than %d bytes", fserrors.ErrProtocol, MaxCommandLen)
		}
		if !isPrefix {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
	}
}
