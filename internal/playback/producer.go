package playback

import (
	"context"
	"io"
	"time"

	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/logger"
)

// FrameReader fills dst with whole interleaved frames and returns how many
// frames it wrote. It returns io.EOF once the stream is exhausted.
type FrameReader interface {
	ReadFrames(dst []byte) (int, error)
}

// StreamResult summarizes one Stream call.
type StreamResult struct {
	Blocks   int
	Frames   int64
	Retries  int
	Duration time.Duration
}

// Stream reads src block by block into p until EOF, then waits for the queue
// to drain. Blocks that do not fit yet are retried after the next completion.
// The player must be open. Cancelling ctx stops production and force-flushes.
func Stream(ctx context.Context, p *Player, src FrameReader, blockFrames int) (res StreamResult, err error) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if blockFrames <= 0 {
		return res, newError("stream", ErrInvalidArgument, "block_frames", blockFrames)
	}

	log := p.log.Module("producer")

	for {
		if err := ctx.Err(); err != nil {
			return res, abortStream(p, err)
		}

		addr, err := p.Allocate(blockFrames)
		if err != nil {
			if !errors.Is(err, ErrFull) && !errors.Is(err, ErrOverlap) {
				return res, err
			}
			res.Retries++
			if werr := p.WaitForSpace(ctx); werr != nil {
				return res, abortStream(p, werr)
			}
			continue
		}

		buf, err := p.Buffer(addr, blockFrames)
		if err != nil {
			return res, err
		}

		n, readErr := src.ReadFrames(buf)
		if n == 0 && readErr == nil {
			readErr = io.ErrNoProgress
		}
		if n > 0 {
			if err := p.Submit(addr, n); err != nil {
				return res, err
			}
			res.Blocks++
			res.Frames += int64(n)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = p.Flush(context.Background(), true)
			return res, errors.New(readErr).
				Component(componentPlayback).
				Category(errors.CategoryAudio).
				Context("operation", "stream_read").
				Context("blocks", res.Blocks).
				Build()
		}
	}

	log.Debug("source exhausted, draining",
		logger.Int("blocks", res.Blocks),
		logger.Int64("frames", res.Frames),
		logger.Int("retries", res.Retries))

	drainCtx := ctx
	if p.drainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, p.drainTimeout)
		defer cancel()
	}
	if ferr := p.Flush(drainCtx, false); ferr != nil {
		return res, abortStream(p, ferr)
	}
	return res, nil
}

// abortStream drops whatever is still queued and returns cause.
func abortStream(p *Player, cause error) error {
	_ = p.Flush(context.Background(), true)
	return cause
}
