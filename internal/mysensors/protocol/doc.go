// Package protocol implements the MySensors serial protocol codec.
//
// A frame is a single line of six ';'-separated fields:
//
//	node-id;child-sensor-id;command;ack;type;payload\n
//
// Decode turns a frame into a Message and reports ErrMalformedFrame or
// ErrUnknownCommand for frames that should be dropped. Encode is the
// inverse and cannot fail. The Presentation, SetReq and InternalType enums
// cover protocol 2.x; older 1.x aliases map onto the same codes.
package protocol
