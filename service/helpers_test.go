package service

import (
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var testProgram = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k
}

// buildTx returns a transaction paid by feePayer with one instruction to
// program that client must sign. Signing is left to the caller.
func buildTx(t *testing.T, feePayer solana.PublicKey, client solana.PublicKey, program solana.PublicKey) *solana.Transaction {
	t.Helper()

	ix := solana.NewInstruction(
		program,
		solana.AccountMetaSlice{solana.NewAccountMeta(client, true, true)},
		[]byte("hello"),
	)

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{7}, solana.TransactionPayer(feePayer))
	require.NoError(t, err)

	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	return tx
}

// clientSign fills the client's signature slot.
func clientSign(t *testing.T, tx *solana.Transaction, client solana.PrivateKey) {
	t.Helper()

	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)

	for i, k := range tx.Message.AccountKeys[:tx.Message.Header.NumRequiredSignatures] {
		if k.Equals(client.PublicKey()) {
			sig, err := client.Sign(msg)
			require.NoError(t, err)
			tx.Signatures[i] = sig
			return
		}
	}
	t.Fatalf("%s is not a signer", client.PublicKey())
}

func encodeTx(t *testing.T, tx *solana.Transaction) string {
	t.Helper()
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func encodeRaw(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
