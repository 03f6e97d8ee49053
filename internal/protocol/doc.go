// Package protocol defines how the session engine talks to a chat network
// client without knowing its wire format or encryption.
//
// A Dialer opens a Conn for one tenant, handing it an AuthState backed by
// the durable store. The Conn reports everything that happens through a
// single ordered event channel:
//
//	for ev := range conn.Events() {
//	    switch ev.Kind {
//	    case protocol.EventCredentials: // persist ev.Credentials
//	    case protocol.EventMessages:    // normalize and buffer
//	    case protocol.EventConnection:  // drive the state machine
//	    }
//	}
//
// The channel is closed after the final close update, so a dispatcher that
// ranges over it terminates with the connection.
//
// The loopback subpackage provides an in-process network used for local
// development and tests.
package protocol
