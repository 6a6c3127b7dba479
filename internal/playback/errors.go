package playback

import (
	"fmt"

	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
)

// ErrorKind classifies recoverable and fatal playback failures
type ErrorKind int

const (
	KindOpenFailure ErrorKind = iota + 1
	KindMetadataFailure
	KindDecoderMissing
	KindDecoderLoadFailure
	KindInsufficientBuffer
	KindBufferDesync
)

func (k ErrorKind) String() string {
	switch k {
	case KindOpenFailure:
		return "open_failure"
	case KindMetadataFailure:
		return "metadata_failure"
	case KindDecoderMissing:
		return "decoder_missing"
	case KindDecoderLoadFailure:
		return "decoder_load_failure"
	case KindInsufficientBuffer:
		return "insufficient_buffer"
	case KindBufferDesync:
		return "buffer_desync"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind, for errors.Is
var (
	ErrOpenFailure        = errors.NewStd("track file could not be opened")
	ErrMetadataFailure    = errors.NewStd("track metadata could not be parsed")
	ErrDecoderMissing     = errors.NewStd("no decoder for track")
	ErrDecoderLoadFailure = errors.NewStd("decoder failed to load")
	ErrInsufficientBuffer = errors.NewStd("decoder image does not fit in the buffer")
	ErrBufferDesync       = errors.NewStd("read cursor does not match track start")
	ErrClosed             = errors.NewStd("player closed")
)

var kindSentinels = map[ErrorKind]error{
	KindOpenFailure:        ErrOpenFailure,
	KindMetadataFailure:    ErrMetadataFailure,
	KindDecoderMissing:     ErrDecoderMissing,
	KindDecoderLoadFailure: ErrDecoderLoadFailure,
	KindInsufficientBuffer: ErrInsufficientBuffer,
	KindBufferDesync:       ErrBufferDesync,
}

var kindCategories = map[ErrorKind]errors.ErrorCategory{
	KindOpenFailure:        errors.CategoryFileIO,
	KindMetadataFailure:    errors.CategoryMetadata,
	KindDecoderMissing:     errors.CategoryCodec,
	KindDecoderLoadFailure: errors.CategoryCodec,
	KindInsufficientBuffer: errors.CategoryBuffer,
	KindBufferDesync:       errors.CategoryBuffer,
}

// KindOf returns the playback error kind carried by err, or 0
func KindOf(err error) ErrorKind {
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return 0
}

// kindError builds an enhanced error of the given kind wrapping cause
func kindError(kind ErrorKind, cause error) *errors.ErrorBuilder {
	err := kindSentinels[kind]
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	priority := errors.PriorityMedium
	if kind == KindBufferDesync {
		priority = errors.PriorityCritical
	}
	return errors.New(err).
		Component(componentPlayback).
		Category(kindCategories[kind]).
		Priority(priority).
		Context("kind", kind.String())
}

// recordError logs and counts a playback error. Fatal kinds log at error level.
func (s *session) recordError(kind ErrorKind, err error, fields ...logger.Field) {
	s.metrics.RecordError(kind.String())
	fields = append(fields, logger.String("kind", kind.String()), logger.Error(err))
	if kind == KindBufferDesync {
		s.log.Error("playback stopped", fields...)
		return
	}
	s.log.Warn("playback problem", fields...)
}
