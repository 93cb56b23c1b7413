package wire

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"shardfs/pkg/fserrors"
)

func TestStoreRequestSurvivesOneByteReads(t *testing.T) {
	var buf bytes.Buffer
	content := []byte("int main(void) {\x00\x00 return 0; }")
	require.NoError(t, WriteRequest(NewWriter(&buf), Request{Op: OpStore, Path: "~S2/docs/a.pdf", Content: content}))

	req, err := ReadRequest(NewReader(iotest.OneByteReader(&buf)))
	require.NoError(t, err)
	require.Equal(t, OpStore, req.Op)
	require.Equal(t, "~S2/docs/a.pdf", req.Path)
	require.Equal(t, content, req.Content)
}

func TestZeroLengthContent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteContent(NewWriter(&buf), nil))

	got, err := ReadContent(NewReader(&buf))
	require.NoError(t, err)
	require.Empty(t, got)
	require.Zero(t, buf.Len())
}

func TestShortReadIsTransportFailure(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteContent(NewWriter(&buf), []byte("0123456789")))
	truncated := buf.Bytes()[:buf.Len()-6]

	_, err := ReadContent(NewReader(bytes.NewReader(truncated)))
	require.ErrorIs(t, err, fserrors.ErrTransport)
}

func TestChecksumMismatchIsProtocolViolation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteContent(NewWriter(&buf), []byte("hello")))
	raw := buf.Bytes()
	raw[1+8] ^= 0xff // first content byte

	_, err := ReadContent(NewReader(bytes.NewReader(raw)))
	require.ErrorIs(t, err, fserrors.ErrProtocol)
}

func TestOversizeContentRejectedBeforeAllocation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Int8(StatusOK)
	w.Int64(1 << 40)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	r.MaxContent = 1 << 20
	_, err := ReadContent(r)
	require.ErrorIs(t, err, fserrors.ErrProtocol)
}

func TestFailureReplyKeepsKind(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFailure(NewWriter(&buf), fserrors.Fail(fserrors.KindNotFound, "File not found")))

	_, err := ReadContent(NewReader(&buf))
	require.ErrorIs(t, err, fserrors.ErrNotFound)

	var f *fserrors.Failure
	require.True(t, errors.As(err, &f))
	require.Equal(t, "File not found", f.Msg)
}

func TestFailureWithUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFailure(NewWriter(&buf), &fserrors.Failure{Kind: 200, Msg: "?"}))

	_, err := ReadMessage(NewReader(&buf))
	require.ErrorIs(t, err, fserrors.ErrProtocol)
}

func TestListReplies(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteList(NewWriter(&buf), []string{"b.pdf", "a.pdf"}))
	names, err := ReadList(NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, []string{"b.pdf", "a.pdf"}, names)

	buf.Reset()
	require.NoError(t, WriteList(NewWriter(&buf), nil))
	require.Equal(t, []byte{0}, buf.Bytes())
	names, err = ReadList(NewReader(&buf))
	require.NoError(t, err)
	require.Empty(t, names)

	_, err = ReadList(NewReader(bytes.NewReader([]byte{7})))
	require.ErrorIs(t, err, fserrors.ErrProtocol)
}

func TestUnknownTag(t *testing.T) {
	_, err := ReadRequest(NewReader(strings.NewReader("X")))
	require.ErrorIs(t, err, fserrors.ErrProtocol)

	_, err = ReadRequest(NewReader(strings.NewReader("")))
	require.ErrorIs(t, err, fserrors.ErrTransport)
}

func TestArchiveRequestCarriesType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(NewWriter(&buf), Request{Op: OpArchive, Type: "pdf"}))
	req, err := ReadRequest(NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, Request{Op: OpArchive, Type: "pdf"}, req)
}

func TestClientReplies(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteClientMessage(NewWriter(&buf), "File deleted successfully"))
	msg, err := ReadClientMessage(NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "File deleted successfully", msg)

	buf.Reset()
	require.NoError(t, WriteClientFailure(NewWriter(&buf), fserrors.Fail(fserrors.KindUsage, "Usage: fetch <path>")))
	_, err = ReadClientContent(NewReader(&buf))
	require.ErrorIs(t, err, fserrors.ErrUsage)
	require.Contains(t, err.Error(), "Usage: fetch <path>")

	buf.Reset()
	require.NoError(t, WriteClientList(NewWriter(&buf), nil))
	names, err := ReadClientList(NewReader(&buf))
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestReadCommand(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader("list ~S1/\r\nfetch ~S1/a.c\nterminate"), 16)

	for _, want := range []string{"list ~S1/", "fetch ~S1/a.c", "terminate"} {
		line, err := ReadCommand(br)
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
	_, err := ReadCommand(br)
	require.Error(t, err)

	long := strings.Repeat("x", MaxCommandLen+10) + "\n"
	_, err = ReadCommand(bufio.NewReaderSize(strings.NewReader(long), 16))
	require.ErrorIs(t, err, fserrors.ErrProtocol)
}

func TestClientFailureWithUnknownKind(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Int64(ClientFail)
	w.Byte(200)
	w.String(TagError + "???")
	require.NoError(t, w.Flush())

	_, err := ReadClientMessage(NewReader(&buf))
	require.ErrorIs(t, err, fserrors.ErrProtocol)
	var f *fserrors.Failure
	require.False(t, errors.As(err, &f))
}
