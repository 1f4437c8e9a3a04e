package irqaffinity

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"k8s.io/utils/cpuset"
)

// Affinity masks are hex strings as found in /proc/irq/*/smp_affinity: comma
// grouped into 32 bit words, least significant bit representing CPU 0. The
// kernel zero-pads values on read, so two masks are compared through their
// decoded CPU sets rather than byte for byte.

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func cpuMaskByte(c int) byte {
	return byte(1 << c)
}

func mapHexCharToByte(h string) ([]byte, error) {
	// remove ","; now each element is "0-9,a-f"
	s := strings.ReplaceAll(h, ",", "")

	l := len(s)
	var hexin string
	if l%2 != 0 {
		// expect even number of chars
		hexin = "0" + s
	} else {
		hexin = s
	}

	breversed, err := hex.DecodeString(hexin)
	if err != nil {
		return nil, err
	}

	l = len(breversed)
	barray := make([]byte, 0, l)
	var rindex int
	for i := 0; i < l; i++ {
		rindex = l - i - 1
		barray = append(barray, breversed[rindex])
	}
	return barray, nil
}

func mapByteToHexChar(b []byte) string {
	// The kernel will not accept a longer bit mask than the count of cpus
	// on the system rounded up to the closest 32 bit multiple.
	var rindex int
	l := len(b)
	breversed := make([]byte, 0, l)
	// align it to 4 byte
	if l%4 != 0 {
		lfill := 4 - l%4
		l += lfill
		for i := 0; i < lfill; i++ {
			b = append(b, byte(0))
		}
	}

	for i := 0; i < l; i++ {
		rindex = l - i - 1
		breversed = append(breversed, b[rindex])
	}
	return hex.EncodeToString(breversed)
}

// mapByteToCPUSet converts a byte encoded cpu mask (decoded from hex, no
// commas) to a cpuset.CPUSet representation.
func mapByteToCPUSet(b []byte) cpuset.CPUSet {
	result := cpuset.New()

	for i, chunk := range b {
		start := 8 * i // first cpu in the chunk
		for cpu := 0; cpu < 8; cpu++ {
			if chunk&cpuMaskByte(cpu) != 0 {
				result = result.Union(cpuset.New(cpu + start))
			}
		}
	}
	return result
}

// ParseMask decodes an smp_affinity style hex mask into a CPU set.
func ParseMask(mask string) (cpuset.CPUSet, error) {
	trimmed := strings.TrimSpace(mask)
	if !isASCII(trimmed) {
		return cpuset.New(), fmt.Errorf("non ascii character detected: %s", trimmed)
	}
	barray, err := mapHexCharToByte(trimmed)
	if err != nil {
		return cpuset.New(), err
	}
	return mapByteToCPUSet(barray), nil
}

// FormatMask encodes a CPU set as an smp_affinity style hex mask, comma
// grouped into 32 bit words.
func FormatMask(cpus cpuset.CPUSet) string {
	size := 4
	if !cpus.IsEmpty() {
		if highest := cpus.List()[cpus.Size()-1]; highest/8+1 > size {
			size = highest/8 + 1
		}
	}

	barray := make([]byte, size)
	for _, cpu := range cpus.List() {
		barray[cpu/8] |= cpuMaskByte(cpu % 8)
	}

	mask := mapByteToHexChar(barray)
	grouped := mask[0:8]
	for i := 8; i+8 <= len(mask); i += 8 {
		grouped = grouped + "," + mask[i:i+8]
	}
	return grouped
}

// MasksEqual reports whether two hex masks select the same CPUs, regardless
// of padding and grouping.
func MasksEqual(a, b string) (bool, error) {
	setA, err := ParseMask(a)
	if err != nil {
		return false, err
	}
	setB, err := ParseMask(b)
	if err != nil {
		return false, err
	}
	return setA.Equals(setB), nil
}
