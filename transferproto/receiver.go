package transferproto

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/triphopMahithi/DropTea/codec"
	"github.com/triphopMahithi/DropTea/pipeline"
	"github.com/triphopMahithi/DropTea/transport"
)

// Decide is supplied by the engine to turn an announced Header into an
// accept/reject Decision, typically by bridging to the host's Sink and a
// PendingMap.
type Decide func(Header) Decision

// Result describes a completed inbound transfer.
type Result struct {
	Header Header
	Path   string
	Bytes  int64
}

// ReceiveFile reads a Header, asks decide whether to accept it, writes the
// Ack, and — if accepted — streams the body to a unique path under
// destDir. The destination file is written to a ".part" sibling and
// renamed into place only once the body and any trailing codec footer have
// been fully read and fsynced, so a crash mid-transfer never leaves a
// half-written file at its final name (spec §6.6).
func ReceiveFile(ctx context.Context, stream transport.Stream, destDir string, decide Decide, onProgress pipeline.ProgressFunc) (Result, error) {
	header, err := ReadHeader(stream)
	if err != nil {
		if errors.Is(err, ErrGhostConnection) {
			return Result{}, ErrGhostConnection
		}
		return Result{}, err
	}

	decision := decide(header)
	if !decision.Accept {
		if err := WriteAck(stream, Ack{Status: AckReject}); err != nil {
			return Result{}, err
		}
		return Result{Header: header}, ErrRejected
	}

	finalPath := decision.SavePath
	if finalPath == "" {
		finalPath, err = UniquePath(destDir, header.Filename)
		if err != nil {
			return Result{Header: header}, err
		}
	}
	partPath := finalPath + ".part"

	if err := WriteAck(stream, Ack{Status: AckAccept}); err != nil {
		return Result{Header: header}, err
	}

	out, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{Header: header}, fmt.Errorf("transferproto: cannot create %s: %w", partPath, err)
	}

	cd, err := codec.ByName(codec.Name(header.Compression))
	if err != nil {
		out.Close()
		os.Remove(partPath)
		return Result{Header: header}, err
	}

	dec, err := cd.NewDecoder(stream)
	if err != nil {
		out.Close()
		os.Remove(partPath)
		return Result{Header: header}, err
	}

	n, err := pipeline.Copy(ctx, out, dec, header.Filesize, onProgress, dec.Close)
	if err != nil {
		out.Close()
		os.Remove(partPath)
		return Result{Header: header}, err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(partPath)
		return Result{Header: header}, fmt.Errorf("transferproto: cannot fsync %s: %w", partPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return Result{Header: header}, fmt.Errorf("transferproto: cannot close %s: %w", partPath, err)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		return Result{Header: header}, fmt.Errorf("transferproto: cannot commit %s: %w", finalPath, err)
	}

	return Result{Header: header, Path: finalPath, Bytes: n}, nil
}
