package http11

// Method is an HTTP request method.
// The numeric form keeps route matching a plain integer comparison.
type Method uint8

// HTTP methods recognised by the parser.
const (
	MethodUnknown Method = iota
	MethodGET
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodPATCH
	MethodHEAD
	MethodOPTIONS
	MethodCONNECT
	MethodTRACE
)

var methodNames = [...]string{
	MethodUnknown: "",
	MethodGET:     "GET",
	MethodPOST:    "POST",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodPATCH:   "PATCH",
	MethodHEAD:    "HEAD",
	MethodOPTIONS: "OPTIONS",
	MethodCONNECT: "CONNECT",
	MethodTRACE:   "TRACE",
}

// ParseMethod converts a request-line method token to a Method.
// Method tokens are case-sensitive (RFC 7230 §3.1.1); anything not listed
// above yields MethodUnknown.
func ParseMethod(token string) Method {
	// Length first to keep the comparisons short
	switch len(token) {
	case 3:
		switch token {
		case "GET":
			return MethodGET
		case "PUT":
			return MethodPUT
		}
	case 4:
		switch token {
		case "POST":
			return MethodPOST
		case "HEAD":
			return MethodHEAD
		}
	case 5:
		switch token {
		case "PATCH":
			return MethodPATCH
		case "TRACE":
			return MethodTRACE
		}
	case 6:
		if token == "DELETE" {
			return MethodDELETE
		}
	case 7:
		switch token {
		case "OPTIONS":
			return MethodOPTIONS
		case "CONNECT":
			return MethodCONNECT
		}
	}
	return MethodUnknown
}

// String returns the method token, or "" for MethodUnknown.
func (m Method) String() string {
	if int(m) >= len(methodNames) {
		return ""
	}
	return methodNames[m]
}

// Valid reports whether m is a recognised method.
func (m Method) Valid() bool {
	return m >= MethodGET && m <= MethodTRACE
}
