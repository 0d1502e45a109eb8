package security

import "time"

// testSecret is a fixed HS256 key for unit tests only. Do not use in production.
const testSecret = "test-secret-0123456789abcdef0123456789abcdef"

// NewTestCodec returns a Codec keyed with the embedded test secret.
// now may be nil to use the wall clock. For unit tests only.
func NewTestCodec(now func() time.Time) *Codec {
	opts := []CodecOption{}
	if now != nil {
		opts = append(opts, WithClock(now))
	}
	c, err := NewCodec([]byte(testSecret), "test-issuer", opts...)
	if err != nil {
		panic(err)
	}
	return c
}
