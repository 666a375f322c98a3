// Package hdtp implements the framing used on the sensor link.
//
// A frame on the wire is
//
//	[0x7E][len][payload ... len bytes][crc hi][crc lo]
//
// where len is 1..255 and the check value is CRC-16/XMODEM over the
// payload bytes only. There is no byte stuffing: the decoder recovers from
// corruption by discarding input until the next start marker.
//
// A Decoder is owned by a single goroutine. Bytes are pushed one at a time
// with Input; once Status reports FrameReady the payload is taken with
// Message, which hands it out exactly once.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package hdtp
