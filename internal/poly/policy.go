package poly

import (
	"fmt"
	"strings"
)

// AddressPolicy decides what happens to &x when x has a bound parameter type.
type AddressPolicy uint8

const (
	// AddressReject fails the unit with AddressOfBoundField.
	AddressReject AddressPolicy = iota
	// AddressBoxed keeps the pointer to the interface slot and warns.
	AddressBoxed
)

func (p AddressPolicy) String() string {
	switch p {
	case AddressReject:
		return "reject"
	case AddressBoxed:
		return "boxed"
	default:
		return fmt.Sprintf("AddressPolicy(%d)", uint8(p))
	}
}

func ParseAddressPolicy(s string) (AddressPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return AddressReject, nil
	case "boxed", "box":
		return AddressBoxed, nil
	default:
		return AddressReject, fmt.Errorf("unknown address policy %q (want reject or boxed)", s)
	}
}

// Options configure one polymorphic lowering.
type Options struct {
	Address AddressPolicy
}
