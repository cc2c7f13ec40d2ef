// This file is part of StrixCore.
//
// StrixCore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// StrixCore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package protocol

// Error is a protocol-level failure with a numeric code that travels in
// `error` messages. Decoding and validation errors wrap one of the
// sentinels below so callers can branch with errors.Is.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

// The error taxonomy. Codes are part of the wire contract.
var (
	ErrMalformedPayload   = &Error{Code: 100, Message: "malformed payload"}
	ErrUnknownMessageType = &Error{Code: 101, Message: "unknown message type"}
	ErrInvalidState       = &Error{Code: 102, Message: "message not permitted in current state"}
	ErrOutOfBounds        = &Error{Code: 103, Message: "coordinate outside world limits"}
	ErrNotFound           = &Error{Code: 104, Message: "not found"}
	ErrGenerationFailure  = &Error{Code: 105, Message: "chunk generation failed"}
	ErrTimeout            = &Error{Code: 106, Message: "liveness timeout"}
)

// CodeOf extracts the numeric code from err, walking the wrap chain.
// Unclassified errors report 0.
func CodeOf(err error) int {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
