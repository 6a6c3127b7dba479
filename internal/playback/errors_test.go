package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/go-playback/internal/errors"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	cause := errors.NewStd("permission denied")
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "open failure with cause", err: kindError(KindOpenFailure, cause).Build(), want: KindOpenFailure},
		{name: "desync without cause", err: kindError(KindBufferDesync, nil).Build(), want: KindBufferDesync},
		{name: "bare sentinel", err: ErrDecoderMissing, want: KindDecoderMissing},
		{name: "unrelated error", err: cause, want: 0},
		{name: "nil", err: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindErrorKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.NewStd("short read")
	err := kindError(KindDecoderLoadFailure, cause).Context("image", "codecs/mp3.codec").Build()

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrDecoderLoadFailure)
	assert.True(t, errors.IsCategory(err, errors.CategoryCodec))
	assert.Equal(t, "decoder_load_failure", err.GetContext()["kind"])
	assert.Equal(t, "critical", kindError(KindBufferDesync, nil).Build().GetPriority())
}
