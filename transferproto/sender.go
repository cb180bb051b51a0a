package transferproto

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/triphopMahithi/DropTea/codec"
	"github.com/triphopMahithi/DropTea/pipeline"
	"github.com/triphopMahithi/DropTea/transport"
)

// ErrRejected is returned by SendFile when the receiver's Ack declines the
// transfer.
var ErrRejected = errors.New("transferproto: receiver rejected transfer")

// SendFile writes header, waits for the receiver's Ack, and then streams
// body through the codec named in header.Compression. If the Ack carries a
// nonzero Resume offset and body implements io.Seeker, SendFile seeks past
// the already-received bytes before streaming the remainder. Once the body
// is written it shuts the stream down, since the receiver reads the body
// until end of stream.
func SendFile(ctx context.Context, stream transport.Stream, header Header, body io.Reader, onProgress pipeline.ProgressFunc) (int64, error) {
	if err := WriteHeader(stream, header); err != nil {
		return 0, err
	}
	if err := stream.Flush(); err != nil {
		return 0, fmt.Errorf("transferproto: cannot flush header: %w", err)
	}

	ack, err := ReadAck(stream)
	if err != nil {
		return 0, err
	}
	if ack.Status != AckAccept {
		return 0, ErrRejected
	}

	remaining := body
	sizeHint := header.Filesize
	if ack.Resume > 0 {
		seeker, ok := body.(io.Seeker)
		if !ok {
			return 0, fmt.Errorf("transferproto: receiver requested resume but body is not seekable")
		}
		if _, err := seeker.Seek(int64(ack.Resume), io.SeekStart); err != nil {
			return 0, fmt.Errorf("transferproto: cannot seek to resume offset: %w", err)
		}
		sizeHint -= int64(ack.Resume)
	}

	cd, err := codec.ByName(codec.Name(header.Compression))
	if err != nil {
		return 0, err
	}

	enc, err := cd.NewEncoder(stream)
	if err != nil {
		return 0, err
	}

	n, err := pipeline.Copy(ctx, enc, remaining, sizeHint, onProgress, enc.Close)
	if err != nil {
		return n, err
	}

	if err := stream.Flush(); err != nil {
		return n, fmt.Errorf("transferproto: cannot flush body: %w", err)
	}
	stream.Shutdown()
	return n, nil
}
