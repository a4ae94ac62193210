//go:build !ggwave

package chirp

// LoadCodec reports GATEWAY_LOAD_FAILED when built without the ggwave tag
func LoadCodec() (Codec, error) {
	return nil, NewGatewayError("built without ggwave support (rebuild with -tags ggwave)")
}
