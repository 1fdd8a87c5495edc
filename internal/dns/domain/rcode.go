package domain

import "fmt"

// RCode represents a DNS response code indicating the result of a query.
type RCode uint8

// DNS response code constants (RFC 1035 section 4.1.1, RFC 2136).
const (
	RCodeNoError  RCode = 0  // NOERROR - No error condition
	RCodeFormErr  RCode = 1  // FORMERR - Format error
	RCodeServFail RCode = 2  // SERVFAIL - Server failure
	RCodeNXDomain RCode = 3  // NXDOMAIN - Non-existent domain
	RCodeNotImp   RCode = 4  // NOTIMP - Not implemented
	RCodeRefused  RCode = 5  // REFUSED - Query refused
)

// IsValid returns true if the RCode is within the supported response code range.
func (r RCode) IsValid() bool {
	return r <= 10
}

// String returns the textual representation of the RCode.
func (r RCode) String() string {
	switch r {
	case RCodeNoError:
		return "NOERROR"
	case RCodeFormErr:
		return "FORMERR"
	case RCodeServFail:
		return "SERVFAIL"
	case RCodeNXDomain:
		return "NXDOMAIN"
	case RCodeNotImp:
		return "NOTIMP"
	case RCodeRefused:
		return "REFUSED"
	case 6:
		return "YXDOMAIN"
	case 7:
		return "YXRRSET"
	case 8:
		return "NXRRSET"
	case 9:
		return "NOTAUTH"
	case 10:
		return "NOTZONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", r)
	}
}
