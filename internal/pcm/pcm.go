// Package pcm converts between interleaved little-endian PCM bytes and
// integer samples as used by go-audio buffers.
package pcm

import (
	"encoding/binary"

	"github.com/go-audio/audio"

	"github.com/tphakala/buffplayer/internal/errors"
)

// ErrUnsupportedBitDepth is returned for sample sizes other than 8, 16, 24 and 32 bits.
var ErrUnsupportedBitDepth = errors.NewStd("unsupported bit depth")

// BytesPerSample returns the storage size of one sample.
func BytesPerSample(bitDepth int) int {
	return (bitDepth + 7) / 8
}

// Supported reports whether bitDepth can be converted.
func Supported(bitDepth int) bool {
	switch bitDepth {
	case 8, 16, 24, 32:
		return true
	default:
		return false
	}
}

func unsupported(op string, bitDepth int) error {
	return errors.New(ErrUnsupportedBitDepth).
		Component("pcm").
		Category(errors.CategoryAudio).
		Context("operation", op).
		Context("bit_depth", bitDepth).
		Build()
}

// Decode appends the samples held in src to dst. 8-bit samples are unsigned,
// matching WAV.
func Decode(dst []int, src []byte, bitDepth int) ([]int, error) {
	if !Supported(bitDepth) {
		return dst, unsupported("decode", bitDepth)
	}
	bps := BytesPerSample(bitDepth)
	for i := 0; i+bps <= len(src); i += bps {
		s := src[i : i+bps]
		switch bitDepth {
		case 8:
			dst = append(dst, int(s[0]))
		case 16:
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(s))))
		case 24:
			dst = append(dst, int(audio.Int24LETo32(s)))
		case 32:
			dst = append(dst, int(int32(binary.LittleEndian.Uint32(s))))
		}
	}
	return dst, nil
}

// Encode writes samples into dst and returns the number of bytes written.
// It stops at the last whole sample that fits.
func Encode(dst []byte, samples []int, bitDepth int) (int, error) {
	if !Supported(bitDepth) {
		return 0, unsupported("encode", bitDepth)
	}
	bps := BytesPerSample(bitDepth)
	n := 0
	for _, v := range samples {
		if n+bps > len(dst) {
			break
		}
		d := dst[n : n+bps]
		switch bitDepth {
		case 8:
			d[0] = uint8(v)
		case 16:
			binary.LittleEndian.PutUint16(d, uint16(int16(v)))
		case 24:
			copy(d, audio.Int32toInt24LEBytes(int32(v)))
		case 32:
			binary.LittleEndian.PutUint32(d, uint32(int32(v)))
		}
		n += bps
	}
	return n, nil
}

// SwapStereo exchanges the left and right sample of every stereo frame in
// data, in place.
func SwapStereo(data []byte, bitDepth int) {
	bps := BytesPerSample(bitDepth)
	frame := 2 * bps
	for i := 0; i+frame <= len(data); i += frame {
		for j := range bps {
			data[i+j], data[i+bps+j] = data[i+bps+j], data[i+j]
		}
	}
}

// Silence fills data with the zero level for bitDepth. 8-bit PCM is
// unsigned, so its midpoint is 0x80.
func Silence(data []byte, bitDepth int) {
	if bitDepth == 8 {
		for i := range data {
			data[i] = 0x80
		}
		return
	}
	clear(data)
}
