package hdtp

// Flag marks the start of every frame.
const Flag byte = 0x7E

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = 255

// overhead is flag + length + two check bytes.
const overhead = 4

// Encode wraps payload in a frame ready to be written to the link.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return nil, ErrFrameLength
	}
	crc := Checksum(payload)

	out := make([]byte, 0, len(payload)+overhead)
	out = append(out, Flag, byte(len(payload)))
	out = append(out, payload...)
	out = append(out, byte(crc>>8), byte(crc))
	return out, nil
}
