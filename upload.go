package httpreply

import (
	"time"

	"github.com/always-cache/httpreply/bytesource"
)

// sourceReady returns a channel that fires when the source the engine
// waits on may have more data. It is nil when the engine waits on nothing.
func (e *engine) sourceReady() <-chan struct{} {
	var src bytesource.Source
	switch {
	case e.state == Buffering:
		src = e.req.Body
	case e.want != nil:
		src = e.upload
	default:
		return nil
	}
	if n, ok := src.(bytesource.ReadyNotifier); ok {
		return n.ReadyRead()
	}
	return pollTimer()
}

func pollTimer() <-chan struct{} {
	c := make(chan struct{})
	time.AfterFunc(sourcePollInterval, func() { close(c) })
	return c
}

func (e *engine) onSourceReady() {
	switch {
	case e.state == Buffering:
		e.bufferUpload()
	case e.want != nil:
		e.answerWant()
	}
}

type errorSource interface {
	Err() error
}

func sourceErr(src bytesource.Source) error {
	if s, ok := src.(errorSource); ok {
		return s.Err()
	}
	return nil
}

// bufferUpload drains the sequential request body into memory. Once it is
// exhausted the request proceeds with the buffered copy.
func (e *engine) bufferUpload() {
	if !e.ring.ReadFrom(e.req.Body) {
		return
	}
	if err := sourceErr(e.req.Body); err != nil {
		e.fail(wrapError(UnknownContentError, err, "reading request body"))
		return
	}
	e.log.Debug().Int64("size", e.ring.Size()).Msg("Buffered request body")
	e.upload = e.ring
	e.afterBuffering()
}

func (e *engine) onWantData(ev event) {
	if e.upload == nil {
		ev.answer <- answer{}
		return
	}
	e.want = &ev
	e.answerWant()
}

// answerWant hands out a read pointer for the outstanding request. With
// nothing available the engine chokes until the source signals more data.
func (e *engine) answerWant() {
	ev := e.want
	src := e.upload
	p := src.ReadPointer(ev.n)
	if len(p) == 0 && !src.AtEnd() {
		e.log.Trace().Msg("Upload choking")
		return
	}
	e.want = nil
	a := answer{data: p, pos: src.Pos() - e.uploadBase}
	if len(p) == 0 {
		a.err = sourceErr(src)
	}
	ev.answer <- a
}

func (e *engine) onProcessed(n int64) {
	if e.upload == nil {
		return
	}
	if !e.upload.Advance(n) {
		e.fail(newError(ProtocolFailure, "upload advanced past available data"))
		return
	}
	sent := e.upload.Pos() - e.uploadBase
	e.uploaded.report(e.now(), sent, e.upload.Size(), sent == e.upload.Size(), e.emitUploadProgress)
}

func (e *engine) onResetUpload(ev event) {
	ok := e.upload != nil && e.upload.Reset()
	if ok {
		e.uploadBase = 0
		e.want = nil
	}
	e.log.Debug().Bool("ok", ok).Msg("Upload reset")
	ev.answer <- answer{ok: ok}
}
