// Package audio provides the Opus codec layer for device audio.
//
// Devices speak 16 kHz mono 16-bit PCM packed into 60 ms Opus frames
// (960 samples per frame). The Encoder buffers arbitrary PCM writes and emits
// whole frames; the final short frame is zero-padded on flush. The Decoder is
// stateful and must be used for one stream only.
package audio

// Device audio is 16 kHz mono Opus at 60 ms frame size.
const (
	SampleRate  = 16000
	Channels    = 1
	FrameSizeMs = 60

	// FrameSamples is the number of samples per channel per 60 ms frame.
	FrameSamples = SampleRate * FrameSizeMs / 1000 // 960

	// FrameBytes is the PCM byte size of one frame (16-bit samples).
	FrameBytes = FrameSamples * Channels * 2
)

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
