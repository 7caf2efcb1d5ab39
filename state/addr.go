package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Addr is the canonical key of a mesh node: the raw address bytes written as
// lowercase byte pairs joined by ':' (e.g. 0012:4b00:0615:a588).
type Addr string

var ErrOddAddress = errors.New("address must contain an even number of bytes")

// AddrFromBytes encodes a raw node address.
func AddrFromBytes(b []byte) (Addr, error) {
	if len(b) == 0 {
		return "", errors.New("address must not be empty")
	}
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%x: %w", b, ErrOddAddress)
	}
	sb := strings.Builder{}
	sb.Grow(len(b)/2*5 - 1)
	for i := 0; i < len(b); i += 2 {
		if i != 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString(b[i : i+2]))
	}
	return Addr(sb.String()), nil
}

func MustAddr(b ...byte) Addr {
	a, err := AddrFromBytes(b)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAddr accepts the canonical form as well as a plain hex string and
// normalizes it.
func ParseAddr(s string) (Addr, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if raw == "" {
		return "", errors.New("address must not be empty")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	return AddrFromBytes(b)
}

func (a Addr) Bytes() []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(string(a), ":", ""))
	if err != nil {
		return nil
	}
	return b
}

// Short returns the last four hex digits, which is how nodes are usually
// told apart in schedule tables.
func (a Addr) Short() string {
	s := string(a)
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

func (a Addr) HasSuffix(suffix string) bool {
	return suffix != "" && strings.HasSuffix(string(a), strings.ToLower(suffix))
}

func (a Addr) String() string {
	return string(a)
}

// Compare orders addresses of equal width by their bytes.
func (a Addr) Compare(b Addr) int {
	return strings.Compare(string(a), string(b))
}

// IP places the node address as the interface identifier inside prefix.
func (a Addr) IP(prefix netip.Prefix) (netip.Addr, error) {
	iid := a.Bytes()
	if !prefix.Addr().Is6() {
		return netip.Addr{}, fmt.Errorf("mesh prefix %s is not an IPv6 prefix", prefix)
	}
	if len(iid) > 8 {
		return netip.Addr{}, fmt.Errorf("address %s is longer than an interface identifier", a)
	}
	ip := prefix.Masked().Addr().As16()
	copy(ip[16-len(iid):], iid)
	return netip.AddrFrom16(ip), nil
}

func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a), nil
}

func (a *Addr) UnmarshalText(text []byte) error {
	parsed, err := ParseAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddrs parses every element of s, failing on the first invalid one.
func ParseAddrs(s []string) ([]Addr, error) {
	out := make([]Addr, 0, len(s))
	for _, x := range s {
		a, err := ParseAddr(x)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
