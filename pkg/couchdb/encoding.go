package couchdb

// Legacy body encoding for old CouchDB servers (observed on 0.11): the server
// rejects document bodies unless the serialized JSON's UTF-8 bytes are
// reinterpreted one byte per character, as if they were ISO-8859-1. The net
// effect on the wire is the raw UTF-8 byte sequence, so on modern servers the
// behavior is indistinguishable; it is kept toggleable for compatibility
// testing against the old encoding path.

// reencodeUTF8ToISO88591 maps each UTF-8 byte of src to the code point with
// the same value, mirroring `new String(src.getBytes("UTF-8"), "ISO-8859-1")`.
func reencodeUTF8ToISO88591(src string) string {
	b := []byte(src)
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// iso88591Bytes encodes a string of code points < 256 back to single bytes,
// the inverse of reencodeUTF8ToISO88591. Code points above 255 cannot occur
// on that path and are truncated to their low byte.
func iso88591Bytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// encodeBody produces the wire bytes for a JSON request body, applying the
// legacy re-encoding round trip when enabled.
func (c *Client) encodeBody(jsonText string) []byte {
	if c.legacyEncoding {
		return iso88591Bytes(reencodeUTF8ToISO88591(jsonText))
	}
	return []byte(jsonText)
}
