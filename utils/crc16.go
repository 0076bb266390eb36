package utils

import (
	"github.com/howeyc/crc16"
)

// RingSlots is the number of slots on the member ring (2^14).
const RingSlots = 16384

func CalculateCRC16(data []byte) uint16 {
	return crc16.Checksum(data, crc16.IBMTable)
}

// Slot places an identifier on the member ring.
func Slot(id string) uint16 {
	return CalculateCRC16([]byte(id)) % RingSlots
}
