package nips

import (
	"errors"
	"strings"
)

// Bech32 charset per BIP-173
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32Generator = []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func bech32Polymod(values []int) int {
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= bech32Generator[i]
			}
		}
	}
	return chk
}

func bech32HrpExpand(hrp string) []int {
	ret := make([]int, 0, len(hrp)*2+1)
	for _, c := range hrp {
		ret = append(ret, int(c>>5))
	}
	ret = append(ret, 0)
	for _, c := range hrp {
		ret = append(ret, int(c&31))
	}
	return ret
}

func bech32VerifyChecksum(hrp string, data []byte) bool {
	values := bech32HrpExpand(hrp)
	for _, d := range data {
		values = append(values, int(d))
	}
	return bech32Polymod(values) == 1
}

func bech32CreateChecksum(hrp string, data []byte) []byte {
	values := bech32HrpExpand(hrp)
	for _, d := range data {
		values = append(values, int(d))
	}
	for i := 0; i < 6; i++ {
		values = append(values, 0)
	}
	polymod := bech32Polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((polymod >> (5 * (5 - i))) & 31)
	}
	return checksum
}

// Bech32Decode decodes a bech32 string into its HRP and 5-bit data groups.
// The checksum is verified and stripped from the returned data.
func Bech32Decode(bech string) (string, []byte, error) {
	if len(bech) < 8 {
		return "", nil, errors.New("bech32: too short")
	}
	if strings.ToLower(bech) != bech && strings.ToUpper(bech) != bech {
		return "", nil, errors.New("bech32: mixed case")
	}
	bech = strings.ToLower(bech)

	pos := strings.LastIndex(bech, "1")
	if pos < 1 || pos+7 > len(bech) {
		return "", nil, errors.New("bech32: invalid separator position")
	}

	hrp := bech[:pos]
	var values []byte
	for _, c := range bech[pos+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx == -1 {
			return "", nil, errors.New("bech32: invalid character")
		}
		values = append(values, byte(idx))
	}

	if !bech32VerifyChecksum(hrp, values) {
		return "", nil, errors.New("bech32: invalid checksum")
	}

	return hrp, values[:len(values)-6], nil
}

// Bech32Encode encodes 5-bit data groups with the given HRP, appending a checksum.
func Bech32Encode(hrp string, data []byte) string {
	combined := append(append([]byte{}, data...), bech32CreateChecksum(hrp, data)...)

	var result strings.Builder
	result.WriteString(hrp)
	result.WriteByte('1')
	for _, v := range combined {
		result.WriteByte(bech32Charset[v])
	}
	return result.String()
}

// Bech32ConvertBits regroups data between bit widths (8<->5 for bech32 payloads).
func Bech32ConvertBits(data []byte, fromBits, toBits int, pad bool) ([]byte, error) {
	acc := 0
	bits := 0
	var ret []byte
	maxv := (1 << toBits) - 1

	for _, value := range data {
		if int(value)>>fromBits != 0 {
			return nil, errors.New("bech32: invalid data range")
		}
		acc = (acc << fromBits) | int(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, errors.New("bech32: invalid padding")
	}

	return ret, nil
}
