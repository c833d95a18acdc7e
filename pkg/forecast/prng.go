package forecast

// Seed hashes a string into a 32-bit generator seed using the djb2
// multiplicative hash. The same string always yields the same seed, across
// processes and platforms.
func Seed(s string) uint32 {
	var hash uint32 = 5381
	for i := 0; i < len(s); i++ {
		hash = hash*33 + uint32(s[i])
	}
	return hash
}

// Stream is a deterministic pseudo-random sequence over [0,1). It is a
// mulberry32 generator: cheap, stateful, and fully reproducible from its
// seed. Not suitable for anything cryptographic.
type Stream struct {
	state uint32
}

// NewStream returns a stream positioned at the start of the sequence for
// seed. Creating a new stream from the same seed restarts the sequence.
func NewStream(seed uint32) *Stream {
	return &Stream{state: seed}
}

// Float64 advances the stream and returns the next value in [0,1).
func (s *Stream) Float64() float64 {
	s.state += 0x6D2B79F5
	t := s.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296.0
}
