package workflow

import (
	"fmt"

	"speech-batch-transcriber/internal/models"
	"speech-batch-transcriber/internal/service/media"
)

// EncodingFor maps a detected codec to the speech API encoding. Only WAVE
// and FLAC are accepted; every other codec is an UnsupportedFormatError.
func EncodingFor(codec media.Codec) (models.AudioEncoding, error) {
	switch codec {
	case media.CodecWAVE:
		return models.EncodingLinear16, nil
	case media.CodecFLAC:
		return models.EncodingFLAC, nil
	default:
		return models.EncodingUnspecified, models.NewError(models.KindUnsupportedFormat,
			"map codec", fmt.Errorf("codec %s is not supported, expected WAVE or FLAC", codec))
	}
}
