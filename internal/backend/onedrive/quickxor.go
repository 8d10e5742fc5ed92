package onedrive

import (
	"encoding/base64"
	"encoding/binary"
)

const (
	quickXorWidth = 160 // bits
	quickXorShift = 11  // bits advanced per input byte
	quickXorSize  = quickXorWidth / 8
)

// quickXorHash returns the base64 QuickXorHash of data, the content hash
// OneDrive reports for every file. Each byte is XORed into a 160-bit
// circular buffer at a position advancing 11 bits per byte; the data length
// is XORed into the final 8 bytes.
func quickXorHash(data []byte) string {
	var buf [quickXorSize]byte

	bit := 0

	for _, b := range data {
		idx, off := bit/8, bit%8
		v := uint16(b) << off

		buf[idx] ^= byte(v)
		if off != 0 {
			buf[(idx+1)%quickXorSize] ^= byte(v >> 8)
		}

		bit = (bit + quickXorShift) % quickXorWidth
	}

	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(data)))

	for i, lb := range length {
		buf[quickXorSize-len(length)+i] ^= lb
	}

	return base64.StdEncoding.EncodeToString(buf[:])
}
