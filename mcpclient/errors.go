package mcpclient

import "fmt"

// LaunchError reports that the tool server process could not be started
// or exited before the session became usable. Fatal to the session.
type LaunchError struct {
	Command string
	Stderr  string
	Cause   error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("failed to launch tool server %q", e.Command)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s (stderr: %s)", msg, e.Stderr)
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Cause }

// HandshakeError reports that the initialize exchange failed: the server
// timed out, returned a protocol error, or sent a response the client
// could not parse. Fatal to the session.
type HandshakeError struct {
	Message string
	Cause   error
}

func (e *HandshakeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("handshake failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("handshake failed: %s", e.Message)
}

func (e *HandshakeError) Unwrap() error { return e.Cause }
