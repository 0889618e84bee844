package dns

import (
	"errors"
	"net"
)

// Class is the retry category of a lookup failure.
type Class int

const (
	// ClassNone is reported for a nil error.
	ClassNone Class = iota

	// ClassNotFound means the name or record does not exist. Never retried.
	ClassNotFound

	// ClassTransient covers temporary resolver failures, timeouts and
	// refusals. Retried while budget remains.
	ClassTransient

	// ClassFatal covers everything else, including errors this package does
	// not recognise. Never retried.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNotFound:
		return "not_found"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Classify maps err to exactly one Class. Unknown errors are fatal.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	switch {
	case errors.Is(err, ErrRetriesExhausted), errors.Is(err, ErrDNSBogus):
		return ClassFatal
	case errors.Is(err, ErrDNSNotFound):
		return ClassNotFound
	case errors.Is(err, ErrDNSServFail), errors.Is(err, ErrDNSTimeout), errors.Is(err, ErrDNSRefused):
		return ClassTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return ClassNotFound
		case dnsErr.IsTimeout, dnsErr.IsTemporary:
			return ClassTransient
		}
	}

	// Includes context.Canceled and an expired caller deadline. A per-attempt
	// deadline is rewrapped as ErrDNSTimeout by Lookup before it gets here.
	return ClassFatal
}
