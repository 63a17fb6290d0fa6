package models

// SignatureWireType tags persisted signatures.
const SignatureWireType = "MinHash"

// SignatureWire is the persisted form of a column signature: the hash
// values are little-endian uint64s, base64 encoded.
type SignatureWire struct {
	Type       string `json:"_type" bson:"_type"`
	NumPerm    int    `json:"num_perm" bson:"num_perm"`
	HashValues string `json:"hashvalues" bson:"hashvalues"`
}
