package utils

import (
	"github.com/herumi/bls-eth-go-binary/bls"
)

func init() {
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic("bls init failed: " + err.Error())
	}
	if err := bls.SetETHmode(bls.EthModeDraft07); err != nil {
		panic("bls eth mode failed: " + err.Error())
	}
}

// BytesToBlsSignature deserializes a compressed BLS signature.
func BytesToBlsSignature(data []byte) (bls.Sign, error) {
	var sign bls.Sign
	if err := sign.Deserialize(data); err != nil {
		return bls.Sign{}, err
	}
	return sign, nil
}

// HexToBlsPublicKey deserializes a hex-encoded BLS public key, the form
// validator keys are carried in config and vote messages.
func HexToBlsPublicKey(hexStr string) (bls.PublicKey, error) {
	var pub bls.PublicKey
	if err := pub.DeserializeHexStr(hexStr); err != nil {
		return bls.PublicKey{}, err
	}
	return pub, nil
}

// HexToBlsSecretKey deserializes a hex-encoded BLS secret key.
func HexToBlsSecretKey(hexStr string) (bls.SecretKey, error) {
	var priv bls.SecretKey
	if err := priv.DeserializeHexStr(hexStr); err != nil {
		return bls.SecretKey{}, err
	}
	return priv, nil
}
