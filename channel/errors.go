package channel

import (
	"errors"
	"fmt"
)

var (
	ErrChannelClosed  = errors.New("channel: closed")
	ErrRequestTimeout = errors.New("channel: request timed out")
	ErrNoData         = errors.New("channel: no data in response")
)

// ResponseError is an explicit rejection from the engine for one request.
type ResponseError struct {
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("channel: response error: %s", e.Reason)
}

// ParseError reports a response frame that carried a correlation id but could
// not be decoded into the response shape.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("channel: failed to parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConversionError reports a response body that decoded as JSON but could not
// be converted to the caller's expected result type.
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("channel: response conversion: %v", e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
