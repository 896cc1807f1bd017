package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Encoder packs a PCM stream into 60 ms Opus frames. Short writes are
// buffered until a whole frame is available; Flush zero-pads and emits the
// remainder. An Encoder is not safe for concurrent use.
type Encoder struct {
	enc *gopus.Encoder
	buf []int16
}

// NewEncoder creates an Opus encoder configured for device audio.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode appends pcm (little-endian int16 bytes) to the internal buffer and
// invokes sink once per complete 60 ms frame. When endOfStream is set, any
// trailing partial frame is zero-padded and emitted as well.
func (e *Encoder) Encode(pcm []byte, endOfStream bool, sink func(frame []byte) error) error {
	e.buf = append(e.buf, BytesToInt16s(pcm)...)

	for len(e.buf) >= FrameSamples {
		frame, err := e.enc.Encode(e.buf[:FrameSamples], FrameSamples, FrameBytes)
		if err != nil {
			return fmt.Errorf("audio: opus encode: %w", err)
		}
		e.buf = e.buf[FrameSamples:]
		if err := sink(frame); err != nil {
			return err
		}
	}

	if endOfStream && len(e.buf) > 0 {
		padded := make([]int16, FrameSamples)
		copy(padded, e.buf)
		e.buf = nil
		frame, err := e.enc.Encode(padded, FrameSamples, FrameBytes)
		if err != nil {
			return fmt.Errorf("audio: opus encode tail: %w", err)
		}
		if err := sink(frame); err != nil {
			return err
		}
	}
	return nil
}

// Reset discards any buffered partial frame.
func (e *Encoder) Reset() {
	e.buf = nil
}

// Decoder unpacks Opus frames back into PCM. A Decoder maintains codec state
// across consecutive frames of one stream and is not safe for concurrent use.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates an Opus decoder configured for device audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes a single Opus frame into int16 PCM samples.
func (d *Decoder) Decode(frame []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(frame, FrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return pcm, nil
}

// DecodeFrames decodes a sequence of Opus frames into one contiguous PCM
// byte slice (little-endian int16). Frames that fail to decode are skipped so
// a single corrupt packet cannot lose a whole utterance.
func (d *Decoder) DecodeFrames(frames [][]byte) []byte {
	out := make([]byte, 0, len(frames)*FrameBytes)
	for _, f := range frames {
		pcm, err := d.Decode(f)
		if err != nil {
			continue
		}
		out = append(out, Int16sToBytes(pcm)...)
	}
	return out
}
