// Package bridge is the content-side endpoint of the progress protocol. A
// Bridge stamps every outbound envelope with the frame's content identity,
// posts it through an injected transport without waiting for delivery, and
// fans inbound SESSION and RESUME_DATA messages out to registered listeners.
package bridge
