package core

import (
	"encoding/base64"
	"fmt"
)

// HostShimJS wires the Go-backed base64 helpers onto the global object with
// JavaScript's own coercion rules: btoa stringifies its argument via
// ToString, atob insists on a string. Registered once at heap creation.
const HostShimJS = `
(function() {
	globalThis.btoa = function(x) {
		return __jsaas_btoa(String(x));
	};
	globalThis.atob = function(x) {
		if (typeof x !== 'string') {
			throw new TypeError('atob: argument must be a string');
		}
		return __jsaas_atob(x);
	};
})();
`

// Btoa base64-encodes a JS string, treating each code unit as one byte.
// Code units above U+00FF have no byte representation and are an error,
// matching the browser's InvalidCharacterError.
func Btoa(s string) (string, error) {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return "", fmt.Errorf("btoa: character out of latin1 range")
		}
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Atob base64-decodes its input and returns a JS string in which each
// decoded byte becomes one code unit, so 8-bit values round-trip through
// btoa unchanged. The returned Go string is the UTF-8 spelling of those
// code points; the interpreter bridge converts it back to code units.
func Atob(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("atob: invalid base64 input")
	}
	out := make([]rune, len(raw))
	for i, b := range raw {
		out[i] = rune(b)
	}
	return string(out), nil
}
