package interceptor

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Codec converts application values to and from stored BSON documents.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// BaseCodec is the plain BSON codec used for unversioned types and wrapped by
// interceptors for versioned ones.
type BaseCodec struct{}

// Encode marshals v with the default BSON registry.
func (BaseCodec) Encode(v interface{}) ([]byte, error) {
	return bson.Marshal(v)
}

// Decode unmarshals data into v with the default BSON registry.
func (BaseCodec) Decode(data []byte, v interface{}) error {
	return bson.Unmarshal(data, v)
}
