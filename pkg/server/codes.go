package server

// Dynamips-style status codes. The first digit classes the reply:
// 1xx informational, 2xx error.
const (
	codeOK            = 100 // ok
	codeInfoMsg       = 101 // informative message
	codeInfoDebug     = 102 // debugging message
	codeErrParsing    = 200 // parse error
	codeErrUnkModule  = 201 // unknown module
	codeErrUnkCmd     = 202 // unknown command
	codeErrBadParam   = 203 // bad number of parameters
	codeErrInvParam   = 204 // invalid parameter
	codeErrBinding    = 205 // binding error
	codeErrCreate     = 206 // unable to create object
	codeErrDelete     = 207 // unable to delete object
	codeErrUnkObj     = 208 // unknown object
	codeErrStart      = 209 // unable to start object
	codeErrStop       = 210 // unable to stop object
	codeErrFile       = 211 // file error
	codeErrBadObj     = 212 // bad object
)
