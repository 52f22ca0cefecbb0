package vs2

// Checksum computes the additive checksum of a request or response telegram.
//
// A request telegram starts with STX and the sum covers PayloadLen and the payload,
// i.e. b[1] .. b[b[1]+1]. A response telegram is prefixed by the ACK of the exchange,
// so the sum covers b[2] .. b[b[2]+2]. A trailing checksum byte is never part of the sum.
//
// Input that matches neither layout, or is too short for its own length byte, yields 0.
// Callers compare against a received checksum, so garbage fails the comparison in all but 1/256 cases.
func Checksum(b []byte) byte {
	if len(b) < 2 {
		return 0
	}

	start := 1
	if b[0] != STX {
		if b[0] != ACK && b[1] != STX {
			return 0
		}
		start = 2
		if len(b) < 3 {
			return 0
		}
	}
	end := start + int(b[start])
	if end >= len(b) {
		return 0
	}

	var crc byte
	for _, c := range b[start : end+1] {
		crc += c
	}
	return crc
}
