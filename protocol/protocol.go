// Package protocol frames console traffic between the host tool and the
// winder board over a serial line. Every frame is
//
//	len | seq | payload ... | crc_hi | crc_lo | 0x7E
//
// len counts the whole frame, the CRC covers len, seq and payload. A message
// longer than one frame is split into frames carrying the same sequence
// number: all but the last are flagged SeqMore and all but the first SeqCont.
package protocol

const (
	HeaderSize  = 2
	TrailerSize = 3
	MinFrame    = HeaderSize + TrailerSize
	MaxFrame    = 64 // keeps len below SyncByte
	MaxPayload  = MaxFrame - MinFrame

	SyncByte = 0x7E

	SeqMask = 0x0F
	SeqDest = 0x10 // always set in a valid sequence byte
	SeqMore = 0x20 // more frames follow for this message
	SeqCont = 0x40 // continues the message begun by an earlier frame
)

// Frame is one decoded message block
type Frame struct {
	Seq     uint8 // 0-15
	More    bool
	Cont    bool
	Payload []byte
}

func (f Frame) seqByte() byte {
	b := SeqDest | f.Seq&SeqMask
	if f.More {
		b |= SeqMore
	}
	if f.Cont {
		b |= SeqCont
	}
	return b
}

func validSeq(b byte) bool {
	return b&^(SeqMask|SeqMore|SeqCont) == SeqDest
}

// CRC16 is the CCITT checksum in the low-byte-first form used on the link
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}
