package storage

import (
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/xerrors"
)

var rowEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// PutValue encodes value and stores it under key.
func PutValue(txn Txn, key string, value interface{}) error {
	buf, err := rowEncMode.Marshal(value)
	if err != nil {
		return xerrors.Errorf("failed to encode %s: %v", key, err)
	}
	return txn.Set(key, buf)
}

// GetValue loads and decodes the row stored under key into value. It
// returns ErrNotFound for a missing key.
func GetValue(txn Txn, key string, value interface{}) error {
	buf, err := txn.Get(key)
	if err != nil {
		return err
	}
	return DecodeValue(key, buf, value)
}

// DecodeValue decodes a raw row as read through Txn.Iterate.
func DecodeValue(key string, buf []byte, value interface{}) error {
	err := cbor.Unmarshal(buf, value)
	if err != nil {
		return xerrors.Errorf("failed to decode %s: %v", key, err)
	}
	return nil
}
