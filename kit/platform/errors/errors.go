package errors

import "errors"

// Error codes shared by every package of the module. A typed error that
// implements Coder reports one of these.
const (
	EInternal       = "internal error"
	ENotImplemented = "not implemented"
	ENotFound       = "not found"
	EConflict       = "conflict" // action cannot be performed
	EInvalid        = "invalid"  // validation failed
	EEmptyValue     = "empty value"
	EUnavailable    = "unavailable"
)

// Coder is implemented by typed errors which carry one of the codes above.
type Coder interface {
	Code() string
}

// Error is an operational error with a machine readable code. Op names the
// operation that failed and Err the cause, so chained errors read as a
// logical stack:
//
//	&Error{
//	    Code: EUnavailable,
//	    Op:   "mongo.Open",
//	    Msg:  "unable to reach mongodb",
//	    Err:  err,
//	}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface by writing out the recursive messages.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return "<" + e.Code + ">"
}

// Unwrap returns the wrapped error so that errors.Is and errors.As can
// reach typed errors further down the chain.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap annotates err with an operation. The code of the result is taken
// from err. It returns nil when err is nil.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code: ErrorCode(err),
		Op:   op,
		Err:  err,
	}
}

// asError returns the first *Error in the chain of err, looking through
// wrappers such as fmt.Errorf("%w").
func asError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ErrorCode returns the first code found walking the chain of *Error
// causes. A cause without an *Error contributes its Coder code, and
// anything else is EInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for {
		e, ok := asError(err)
		switch {
		case !ok:
			var c Coder
			if errors.As(err, &c) {
				return c.Code()
			}
			return EInternal
		case e == nil:
			return ""
		case e.Code != "":
			return e.Code
		case e.Err == nil:
			return EInternal
		}
		err = e.Err
	}
}

// ErrorOp returns the outermost op in the chain of *Error causes.
func ErrorOp(err error) string {
	for e, ok := asError(err); ok && e != nil; e, ok = asError(e.Err) {
		if e.Op != "" {
			return e.Op
		}
	}
	return ""
}

// ErrorMessage returns the outermost human readable message of err.
func ErrorMessage(err error) string {
	for err != nil {
		e, ok := asError(err)
		if !ok {
			return err.Error()
		}
		if e == nil {
			return ""
		}
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err == nil {
			return "An internal error has occurred."
		}
		err = e.Err
	}
	return ""
}
