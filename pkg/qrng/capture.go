// pkg/qrng/capture.go
package qrng

import (
	"context"
	"fmt"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

// CaptureExtracted returns count words of post-extraction random data (CPT).
func (c *Client) CaptureExtracted(ctx context.Context, count, dev int) ([]uint32, error) {
	return c.captureAlloc(ctx, protocol.CmdCapture, count, dev)
}

// CaptureRaw returns count words of raw random data (CRA).
func (c *Client) CaptureRaw(ctx context.Context, count, dev int) ([]uint32, error) {
	return c.captureAlloc(ctx, protocol.CmdCaptureRaw, count, dev)
}

// CaptureExtractedInto fills buf in place. On failure the first n words are valid
// and the error is a *CaptureError.
func (c *Client) CaptureExtractedInto(ctx context.Context, buf []uint32, dev int) (int, error) {
	return c.capture(ctx, protocol.CmdCapture, buf, dev)
}

// CaptureRawInto is CaptureExtractedInto for raw data.
func (c *Client) CaptureRawInto(ctx context.Context, buf []uint32, dev int) (int, error) {
	return c.capture(ctx, protocol.CmdCaptureRaw, buf, dev)
}

// MaxCaptureWords bounds one CaptureExtracted or CaptureRaw call (64 MiB).
// Larger amounts must be captured in several calls or through the Into variants.
const MaxCaptureWords = 1 << 24

func (c *Client) captureAlloc(ctx context.Context, cmd protocol.Command, count, dev int) ([]uint32, error) {
	if count < 0 || count > MaxCaptureWords {
		return nil, opErr("capture", dev, fmt.Errorf("%w: count %d not in [0, %d]", ErrInvalidArgument, count, MaxCaptureWords))
	}
	buf := make([]uint32, count)
	if _, err := c.capture(ctx, cmd, buf, dev); err != nil {
		return nil, err
	}
	return buf, nil
}

// capture splits buf into envelopes of at most ChunkWords words and fills it
// chunk by chunk, in order. A failed chunk aborts the call; it is never retried.
func (c *Client) capture(ctx context.Context, cmd protocol.Command, buf []uint32, dev int) (int, error) {
	if _, err := c.device(dev); err != nil {
		return 0, opErr("capture", dev, err)
	}

	off := 0
	for off < len(buf) {
		n := min(len(buf)-off, c.opts.ChunkWords)

		if err := c.captureChunk(ctx, cmd, buf[off:off+n], dev); err != nil {
			return off, &CaptureError{Retrieved: off, Requested: len(buf), Err: err}
		}
		off += n
	}
	return off, nil
}

func (c *Client) captureChunk(ctx context.Context, cmd protocol.Command, dst []uint32, dev int) error {
	reply, err := c.call(ctx, protocol.NewRequest(cmd, uint32(dev), float64(len(dst))))
	if err != nil {
		return err
	}

	switch reply.Cmd {
	case cmd, protocol.CmdCaptureReceived, protocol.CmdCaptureFinish:
	default:
		return fmt.Errorf("%w: %s reply to %s", ErrMalformedReply, reply.Cmd, cmd)
	}

	if err := reply.PutUint32s(dst); err != nil {
		return malformed(err)
	}
	return nil
}
