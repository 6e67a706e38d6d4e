package pa

import (
	"fmt"
	"math/big"
	"net/netip"
)

// subPrefix returns the offset'th sub-prefix of plen bits carved out of
// base. Offset 0 is the first such sub-prefix, offset 1 the second, and
// so on. Used for candidate generation and by the fixed address
// sub-allocator.
func subPrefix(base netip.Prefix, plen int, offset int64) (netip.Prefix, error) {
	if plen < base.Bits() {
		return netip.Prefix{}, fmt.Errorf("pa: sub-prefix length %d shorter than base %d", plen, base.Bits())
	}
	if plen > 128 {
		return netip.Prefix{}, fmt.Errorf("pa: sub-prefix length %d exceeds 128", plen)
	}

	baseBytes := base.Addr().As16()
	baseInt := new(big.Int).SetBytes(baseBytes[:])

	hostBits := uint(128 - plen)
	blockSize := new(big.Int).Lsh(big.NewInt(1), hostBits)
	off := new(big.Int).Mul(big.NewInt(offset), blockSize)
	sumInt := new(big.Int).Add(baseInt, off)

	var addr16 [16]byte
	sumInt.FillBytes(addr16[:])
	addr := netip.AddrFrom16(addr16)
	if base.Addr().Is4() {
		addr = addr.Unmap()
	}
	return addr.Prefix(plen)
}

// offsetOf returns the index of the plen-bit block within base that
// contains addr, the inverse of subPrefix: subPrefix(base, plen,
// offsetOf(base, plen, addr)) reconstructs the block addr falls in.
func offsetOf(base netip.Prefix, plen int, addr netip.Addr) (int64, error) {
	if !base.Contains(addr) {
		return 0, fmt.Errorf("pa: address %s outside prefix %s", addr, base)
	}
	addrBytes := addr.As16()
	baseBytes := base.Addr().As16()
	addrInt := new(big.Int).SetBytes(addrBytes[:])
	baseInt := new(big.Int).SetBytes(baseBytes[:])
	hostBits := uint(128 - plen)
	diff := new(big.Int).Sub(addrInt, baseInt)
	return new(big.Int).Rsh(diff, hostBits).Int64(), nil
}

// candidateAddress returns the single /128 (or /32 for v4) address that
// is the offset'th host address within linkPrefix, used by the address
// sub-allocator to hand out exactly one address per internal link.
func candidateAddress(linkPrefix netip.Prefix, offset int64) (netip.Addr, error) {
	bits := 128
	if linkPrefix.Addr().Is4() {
		bits = 32
	}
	p, err := subPrefix(linkPrefix, bits, offset)
	if err != nil {
		return netip.Addr{}, err
	}
	return p.Addr(), nil
}
