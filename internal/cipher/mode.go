// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package cipher implements the three interchangeable AEAD nonce schemes
// the voice gateway negotiates, all XSalsa20-Poly1305 with a 24-byte nonce,
// differing only in how the nonce is derived and appended to the packet.
package cipher

import "fmt"

// Mode is an encryption mode, ordered Lite > Suffix > Full for negotiation.
type Mode int

const (
	Full Mode = iota
	Suffix
	Lite
)

// wireNames maps Mode to its SELECT_PROTOCOL/SESSION_DESCRIPTION string.
var wireNames = map[Mode]string{
	Full:   "xsalsa20_poly1305",
	Suffix: "xsalsa20_poly1305_suffix",
	Lite:   "xsalsa20_poly1305_lite",
}

// String returns the wire name for the mode.
func (m Mode) String() string {
	if name, ok := wireNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMode parses a wire mode string, returning an error if unrecognized.
func ParseMode(s string) (Mode, error) {
	for m, name := range wireNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("cipher: unknown encryption mode %q", s)
}

// Best picks the maximum mode (by the Lite > Suffix > Full ordering) from a
// peer-advertised list of mode strings. Unparseable entries are skipped; if
// none parse, it returns an error.
func Best(advertised []string) (Mode, error) {
	best := -1
	for _, s := range advertised {
		m, err := ParseMode(s)
		if err != nil {
			continue
		}
		if int(m) > best {
			best = int(m)
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("cipher: no supported encryption mode in %v", advertised)
	}
	return Mode(best), nil
}
