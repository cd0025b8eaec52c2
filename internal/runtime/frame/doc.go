// Package frame implements Connect streaming envelope framing.
//
// Every envelope on the wire is laid out as:
//   - 1 byte: flags (0x01 = compressed payload, 0x02 = end-of-stream trailer)
//   - 4 bytes: big-endian payload length
//   - N bytes: payload
//
// A Demuxer accepts the response body in arbitrarily sized chunks and yields
// only complete frames; bytes belonging to a partially received frame stay
// buffered until the rest arrives:
//
//	d := frame.NewDemuxer(frame.DefaultLimits())
//	for chunk := range chunks {
//	    frames, err := d.Feed(chunk)
//	    // handle frames, report err
//	}
//	leftover := d.Remainder() // out-of-band bytes at stream end
package frame
